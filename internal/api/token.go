package api

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/crashvault/crashvault/internal/apperrors"
	"github.com/crashvault/crashvault/internal/service"
)

// MintToken implements POST /auth/token (spec §6): mints a short-lived JWT
// bound to the token's user_id, or to "admin" for an unscoped token with no
// user. Downstream validation of the minted JWT is out of scope here.
func (s *Server) MintToken(w http.ResponseWriter, r *http.Request) {
	_, token, err := s.Auth.Authorize(r.Context(), r, service.EntitlementToken)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.authCfg.JWTSecret == "" {
		writeError(w, apperrors.Processing(nil, "jwt signing secret is not configured"))
		return
	}

	subject := "admin"
	if token.UserID != nil {
		subject = token.UserID.String()
	}

	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.authCfg.TokenTTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.authCfg.JWTSecret))
	if err != nil {
		writeError(w, apperrors.Processing(err, "sign token"))
		return
	}

	writeOK(w, map[string]any{"token": signed, "expires_at": claims.ExpiresAt.Time})
}
