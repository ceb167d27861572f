package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/service"
)

var versionSortColumns = map[string]struct{}{"id": {}, "name": {}, "hash": {}, "tag": {}}

func (s *Store) GetVersion(ctx context.Context, productID uuid.UUID, name string) (*service.Version, error) {
	query, _, err := s.goqu.From(s.tableVersions).
		Select("id", "product_id", "name", "hash", "tag").
		Where(goqu.I("product_id").Eq(productID), goqu.I("name").Eq(name)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get version query: %w", err)
	}

	var v service.Version
	err = s.db.QueryRowContext(ctx, query).Scan(&v.ID, &v.ProductID, &v.Name, &v.Hash, &v.Tag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}

	return &v, nil
}

func (s *Store) ListVersions(ctx context.Context, productID uuid.UUID, q service.QueryParams) ([]service.Version, error) {
	ds, err := applyQueryParams(
		s.goqu.From(s.tableVersions).
			Select("id", "product_id", "name", "hash", "tag").
			Where(goqu.I("product_id").Eq(productID)),
		q, versionSortColumns, "name",
	)
	if err != nil {
		return nil, err
	}

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list versions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []service.Version
	for rows.Next() {
		var v service.Version
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Name, &v.Hash, &v.Tag); err != nil {
			return nil, fmt.Errorf("scan version row: %w", err)
		}
		out = append(out, v)
	}

	return out, rows.Err()
}
