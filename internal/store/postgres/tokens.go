package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/worldline-go/types"

	"github.com/crashvault/crashvault/internal/service"
)

func (s *Store) GetAPITokenByTokenID(ctx context.Context, tokenID uuid.UUID) (*service.APIToken, error) {
	query, _, err := s.goqu.From(s.tableAPITokens).
		Select("id", "token_id", "token_hash", "product_id", "user_id", "entitlements", "expires_at", "is_active", "last_used_at").
		Where(goqu.I("token_id").Eq(tokenID)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get token query: %w", err)
	}

	var (
		t                service.APIToken
		productID        sql.NullString
		userID           sql.NullString
		entitlementsJSON []byte
	)

	err = s.db.QueryRowContext(ctx, query).Scan(
		&t.ID, &t.TokenID, &t.TokenHash, &productID, &userID, &entitlementsJSON,
		&t.ExpiresAt, &t.IsActive, &t.LastUsedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api token: %w", err)
	}

	if productID.Valid {
		id, err := uuid.Parse(productID.String)
		if err != nil {
			return nil, fmt.Errorf("parse product_id: %w", err)
		}
		t.ProductID = &id
	}
	if userID.Valid {
		id, err := uuid.Parse(userID.String)
		if err != nil {
			return nil, fmt.Errorf("parse user_id: %w", err)
		}
		t.UserID = &id
	}

	var entitlements []string
	if len(entitlementsJSON) > 0 {
		if err := json.Unmarshal(entitlementsJSON, &entitlements); err != nil {
			return nil, fmt.Errorf("parse entitlements: %w", err)
		}
	}
	t.Entitlements = make(map[service.Entitlement]struct{}, len(entitlements))
	for _, e := range entitlements {
		t.Entitlements[service.Entitlement(e)] = struct{}{}
	}

	return &t, nil
}

func (s *Store) TouchLastUsed(ctx context.Context, tokenID uuid.UUID) error {
	query, _, err := s.goqu.Update(s.tableAPITokens).
		Set(goqu.Record{"last_used_at": types.NewTime(time.Now().UTC())}).
		Where(goqu.I("token_id").Eq(tokenID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build touch last_used query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("touch last_used for %s: %w", tokenID, err)
	}
	return nil
}

// CreateAPIToken is an admin-only helper (outside spec §4.3's read path)
// used by token provisioning tooling to insert a freshly minted token row.
func (s *Store) CreateAPIToken(ctx context.Context, t service.APIToken) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	entitlements := make([]string, 0, len(t.Entitlements))
	for e := range t.Entitlements {
		entitlements = append(entitlements, string(e))
	}
	entitlementsJSON, err := json.Marshal(entitlements)
	if err != nil {
		return fmt.Errorf("marshal entitlements: %w", err)
	}

	record := goqu.Record{
		"id":           t.ID,
		"token_id":     t.TokenID,
		"token_hash":   t.TokenHash,
		"product_id":   t.ProductID,
		"user_id":      t.UserID,
		"entitlements": string(entitlementsJSON),
		"expires_at":   t.ExpiresAt,
		"is_active":    t.IsActive,
	}

	query, _, err := s.goqu.Insert(s.tableAPITokens).Rows(record).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert api token query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("insert api token: %w", err)
	}
	return nil
}
