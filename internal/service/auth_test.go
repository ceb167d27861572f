package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/worldline-go/types"

	"github.com/crashvault/crashvault/internal/crypto"
)

type fakeTokenStore struct {
	tokens  map[uuid.UUID]APIToken
	touched chan uuid.UUID // buffered; TouchLastUsed runs on its own goroutine
}

func (f *fakeTokenStore) GetAPITokenByTokenID(_ context.Context, tokenID uuid.UUID) (*APIToken, error) {
	t, ok := f.tokens[tokenID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeTokenStore) TouchLastUsed(_ context.Context, tokenID uuid.UUID) error {
	if f.touched != nil {
		f.touched <- tokenID
	}
	return nil
}

func newTestToken(t *testing.T, secret string, entitlements ...Entitlement) (uuid.UUID, *fakeTokenStore) {
	t.Helper()

	hash, err := crypto.HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}

	tokenID := uuid.New()
	ents := make(map[Entitlement]struct{}, len(entitlements))
	for _, e := range entitlements {
		ents[e] = struct{}{}
	}

	store := &fakeTokenStore{
		tokens: map[uuid.UUID]APIToken{
			tokenID: {
				ID:           uuid.New(),
				TokenID:      tokenID,
				TokenHash:    hash,
				Entitlements: ents,
				IsActive:     true,
			},
		},
		touched: make(chan uuid.UUID, 1),
	}

	return tokenID, store
}

func authRequest(credential string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/minidump/upload", nil)
	r.Header.Set("Authorization", "Bearer "+credential)
	return r
}

func TestAuthorizeSuccess(t *testing.T) {
	tokenID, store := newTestToken(t, "hunter2", EntitlementMinidumpUpload)
	auth := &TokenAuthenticator{Tokens: store}

	cred := EncodeCredential(tokenID, "hunter2")
	ctx, token, err := auth.Authorize(context.Background(), authRequest(cred), EntitlementMinidumpUpload)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if token.TokenID != tokenID {
		t.Fatalf("got token id %v, want %v", token.TokenID, tokenID)
	}
	if _, ok := TokenFromContext(ctx); !ok {
		t.Fatal("expected token attached to context")
	}
	select {
	case touched := <-store.touched:
		if touched != tokenID {
			t.Fatalf("got touched token %v, want %v", touched, tokenID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected last_used_at to be touched")
	}
}

func TestAuthorizeThrottlesLastUsedUpdates(t *testing.T) {
	tokenID, store := newTestToken(t, "hunter2", EntitlementMinidumpUpload)
	auth := &TokenAuthenticator{Tokens: store}
	cred := EncodeCredential(tokenID, "hunter2")

	if _, _, err := auth.Authorize(context.Background(), authRequest(cred), EntitlementMinidumpUpload); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	select {
	case <-store.touched:
	case <-time.After(time.Second):
		t.Fatal("expected first authorize to touch last_used_at")
	}

	if _, _, err := auth.Authorize(context.Background(), authRequest(cred), EntitlementMinidumpUpload); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	select {
	case <-store.touched:
		t.Fatal("expected second authorize within the throttle window to skip the update")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAuthorizeMissingCredential(t *testing.T) {
	auth := &TokenAuthenticator{Tokens: &fakeTokenStore{tokens: map[uuid.UUID]APIToken{}}}

	r := httptest.NewRequest(http.MethodPost, "/minidump/upload", nil)
	_, _, err := auth.Authorize(context.Background(), r, EntitlementMinidumpUpload)
	if err == nil {
		t.Fatal("expected error for missing credential")
	}
}

func TestAuthorizeWrongSecret(t *testing.T) {
	tokenID, store := newTestToken(t, "correct", EntitlementMinidumpUpload)
	auth := &TokenAuthenticator{Tokens: store}

	cred := EncodeCredential(tokenID, "wrong")
	_, _, err := auth.Authorize(context.Background(), authRequest(cred), EntitlementMinidumpUpload)
	if err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestAuthorizeExpiredToken(t *testing.T) {
	tokenID, store := newTestToken(t, "secret", EntitlementMinidumpUpload)
	tok := store.tokens[tokenID]
	past := time.Now().Add(-time.Hour)
	tok.ExpiresAt = types.NewTimeNull(past)
	store.tokens[tokenID] = tok

	auth := &TokenAuthenticator{Tokens: store}
	cred := EncodeCredential(tokenID, "secret")
	_, _, err := auth.Authorize(context.Background(), authRequest(cred), EntitlementMinidumpUpload)
	if err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestAuthorizeInsufficientEntitlement(t *testing.T) {
	tokenID, store := newTestToken(t, "secret", EntitlementSymbolUpload)
	auth := &TokenAuthenticator{Tokens: store}

	cred := EncodeCredential(tokenID, "secret")
	_, _, err := auth.Authorize(context.Background(), authRequest(cred), EntitlementMinidumpUpload)
	if err == nil {
		t.Fatal("expected error for missing entitlement")
	}
}
