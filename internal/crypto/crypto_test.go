package crypto

import "testing"

func TestHashVerifyRoundTrip(t *testing.T) {
	hash, err := HashSecret("s3cr3t-token-value")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}

	if !VerifySecret("s3cr3t-token-value", hash) {
		t.Fatal("expected matching secret to verify")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	hash, err := HashSecret("correct-secret")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}

	if VerifySecret("wrong-secret", hash) {
		t.Fatal("expected mismatching secret to fail verification")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	if VerifySecret("anything", "not-a-valid-hash") {
		t.Fatal("expected malformed hash to fail verification")
	}
}

func TestHashIsSalted(t *testing.T) {
	h1, err := HashSecret("same-secret")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	h2, err := HashSecret("same-secret")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}

	if h1 == h2 {
		t.Fatal("expected two hashes of the same secret to differ (random salt)")
	}
	if !VerifySecret("same-secret", h1) || !VerifySecret("same-secret", h2) {
		t.Fatal("both hashes should verify the original secret")
	}
}
