package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/crashvault/crashvault/internal/config"
	"github.com/crashvault/crashvault/internal/service"
)

func newTokenRequest(credential string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	return req
}

func TestMintTokenHappyPath(t *testing.T) {
	s, store, _, _ := newTestServer()
	credential := seedToken(t, store, nil, service.EntitlementToken)

	rec := httptest.NewRecorder()
	s.MintToken(rec, newTokenRequest(credential))

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	body := decodeEnvelope(t, rec)
	signed, _ := body["token"].(string)
	if signed == "" {
		t.Fatal("expected a signed token in the response")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return []byte(s.authCfg.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("parse minted token: %v (valid=%v)", err, parsed != nil && parsed.Valid)
	}
	if claims.Subject != "admin" {
		t.Fatalf("got subject %q, want admin", claims.Subject)
	}
}

func TestMintTokenMissingSigningSecret(t *testing.T) {
	s, store, _, _ := newTestServer()
	s.authCfg = config.Auth{}
	credential := seedToken(t, store, nil, service.EntitlementToken)

	rec := httptest.NewRecorder()
	s.MintToken(rec, newTokenRequest(credential))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestMintTokenRejectsInsufficientEntitlement(t *testing.T) {
	s, store, _, _ := newTestServer()
	credential := seedToken(t, store, nil, service.EntitlementMinidumpUpload)

	rec := httptest.NewRecorder()
	s.MintToken(rec, newTokenRequest(credential))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
}
