package api

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/config"
	"github.com/crashvault/crashvault/internal/crypto"
	objectmemory "github.com/crashvault/crashvault/internal/objectstore/memory"
	queuememory "github.com/crashvault/crashvault/internal/queue/memory"
	"github.com/crashvault/crashvault/internal/service"
	storememory "github.com/crashvault/crashvault/internal/store/memory"
)

// newTestServer wires a Server directly against the in-memory metadata,
// object, and queue doubles, bypassing New's ada middleware stack: these
// tests exercise the handlers, not the router.
func newTestServer() (*Server, *storememory.Store, *objectmemory.Store, *queuememory.Queue) {
	store := storememory.New()
	objects := objectmemory.New()
	q := queuememory.New(16)

	s := &Server{
		Auth:    &service.TokenAuthenticator{Tokens: store},
		Store:   store,
		Objects: objects,
		Queue:   q,
		authCfg: config.Auth{JWTSecret: "test-signing-secret", TokenTTL: 15 * time.Minute},
	}

	return s, store, objects, q
}

// seedToken creates an active API token carrying entitlements, scoped to
// productID (unscoped if nil), and returns the bearer credential a caller
// would send in the Authorization header.
func seedToken(t *testing.T, store *storememory.Store, productID *uuid.UUID, entitlements ...service.Entitlement) string {
	t.Helper()

	const secret = "s3cr3t-value"
	hash, err := crypto.HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}

	set := map[service.Entitlement]struct{}{}
	for _, e := range entitlements {
		set[e] = struct{}{}
	}

	tokenID := uuid.New()
	store.SeedToken(service.APIToken{
		ID:           uuid.New(),
		TokenID:      tokenID,
		TokenHash:    hash,
		ProductID:    productID,
		Entitlements: set,
		IsActive:     true,
	})

	return service.EncodeCredential(tokenID, secret)
}
