package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/apperrors"
	"github.com/crashvault/crashvault/internal/crypto"
)

// tokenLastUsedThreshold is the minimum interval between last_used_at DB
// writes for a given token. Updates within this window are skipped.
const tokenLastUsedThreshold = 5 * time.Minute

// tokenCtxKey is the context key the authenticator attaches the resolved
// APIToken under.
type tokenCtxKey struct{}

// TokenFromContext returns the token attached by Authorize, if any.
func TokenFromContext(ctx context.Context) (*APIToken, bool) {
	t, ok := ctx.Value(tokenCtxKey{}).(*APIToken)
	return t, ok
}

// EncodeCredential builds the bearer credential clients send for a given
// (token_id, secret) pair: base64url(token_id + ":" + secret).
func EncodeCredential(tokenID uuid.UUID, secret string) string {
	raw := tokenID.String() + ":" + secret
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCredential is the inverse of EncodeCredential.
func decodeCredential(credential string) (uuid.UUID, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(credential)
	if err != nil {
		return uuid.UUID{}, "", fmt.Errorf("decode credential: %w", err)
	}

	idPart, secret, ok := strings.Cut(string(raw), ":")
	if !ok {
		return uuid.UUID{}, "", fmt.Errorf("credential missing secret separator")
	}

	tokenID, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.UUID{}, "", fmt.Errorf("parse token id: %w", err)
	}

	return tokenID, secret, nil
}

// extractBearer pulls the raw credential out of an Authorization header,
// accepting "Bearer <s>", "Token <s>", or a bare value.
func extractBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	for _, prefix := range []string{"Bearer ", "Token "} {
		if strings.HasPrefix(header, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(header, prefix)), true
		}
	}

	return header, true
}

// TokenAuthenticator implements spec §4.3: decode, look up, verify,
// check validity and entitlement, attach to context.
type TokenAuthenticator struct {
	Tokens APITokenStorer

	// tokenLastUsed tracks when each token's last_used_at was last written
	// to the store, so Authorize can throttle updates to at most once per
	// tokenLastUsedThreshold.
	tokenLastUsed sync.Map // map[uuid.UUID]time.Time

	// tokenLastUsedMu holds a per-token mutex so concurrent requests for
	// the same token don't fire redundant, overlapping store writes.
	tokenLastUsedMu sync.Map // map[uuid.UUID]*sync.Mutex
}

// Authorize extracts and validates the bearer credential from r, requiring
// requiredEntitlement, and returns a context carrying the resolved token.
func (a *TokenAuthenticator) Authorize(ctx context.Context, r *http.Request, requiredEntitlement Entitlement) (context.Context, *APIToken, error) {
	header := r.Header.Get("Authorization")
	credential, ok := extractBearer(header)
	if !ok {
		return ctx, nil, apperrors.Auth("missing credential")
	}

	tokenID, secret, err := decodeCredential(credential)
	if err != nil {
		return ctx, nil, apperrors.Auth("invalid credential")
	}

	token, err := a.Tokens.GetAPITokenByTokenID(ctx, tokenID)
	if err != nil {
		return ctx, nil, apperrors.Metadata(err, "look up token")
	}
	if token == nil {
		return ctx, nil, apperrors.Auth("invalid credential")
	}

	if !crypto.VerifySecret(secret, token.TokenHash) {
		return ctx, nil, apperrors.Auth("invalid credential")
	}

	if !token.IsValid(time.Now()) {
		return ctx, nil, apperrors.Auth("token expired or inactive")
	}

	if !token.HasEntitlement(requiredEntitlement) {
		return ctx, nil, apperrors.Authorization("insufficient permissions")
	}

	logAttrs := []any{"token_id", token.TokenID}
	if token.ProductID != nil {
		logAttrs = append(logAttrs, "product_id", *token.ProductID)
	}
	if token.UserID != nil {
		logAttrs = append(logAttrs, "user_id", *token.UserID)
	}
	slog.Debug("token authorized", logAttrs...)

	a.touchLastUsedThrottled(ctx, token.TokenID)

	return context.WithValue(ctx, tokenCtxKey{}, token), token, nil
}

// touchLastUsedThrottled fires a best-effort, asynchronous last_used_at
// update for tokenID, skipping it if one was already written within
// tokenLastUsedThreshold. This keeps every authorized request from issuing
// its own write on a token that may be used many times per second.
func (a *TokenAuthenticator) touchLastUsedThrottled(ctx context.Context, tokenID uuid.UUID) {
	if last, ok := a.tokenLastUsed.Load(tokenID); ok && time.Since(last.(time.Time)) < tokenLastUsedThreshold {
		return
	}
	a.tokenLastUsed.Store(tokenID, time.Now())

	v, _ := a.tokenLastUsedMu.LoadOrStore(tokenID, &sync.Mutex{})
	mu := v.(*sync.Mutex)

	go func() {
		if !mu.TryLock() {
			return // another goroutine is already updating this token
		}
		defer mu.Unlock()

		if err := a.Tokens.TouchLastUsed(context.WithoutCancel(ctx), tokenID); err != nil {
			slog.Error("failed to update token last_used_at", "token_id", tokenID, "error", err)
		}
	}()
}
