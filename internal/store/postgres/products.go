package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/service"
)

var productSortColumns = map[string]struct{}{"id": {}, "name": {}, "accepting_crashes": {}}

func (s *Store) GetProductByName(ctx context.Context, name string) (*service.Product, error) {
	return s.getProduct(ctx, goqu.I("name").Eq(name))
}

func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (*service.Product, error) {
	return s.getProduct(ctx, goqu.I("id").Eq(id))
}

func (s *Store) getProduct(ctx context.Context, where exp.Expression) (*service.Product, error) {
	query, _, err := s.goqu.From(s.tableProducts).
		Select("id", "name", "accepting_crashes").
		Where(where).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get product query: %w", err)
	}

	var p service.Product
	err = s.db.QueryRowContext(ctx, query).Scan(&p.ID, &p.Name, &p.AcceptingCrashes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, q service.QueryParams) ([]service.Product, error) {
	ds, err := applyQueryParams(
		s.goqu.From(s.tableProducts).Select("id", "name", "accepting_crashes"),
		q, productSortColumns, "name",
	)
	if err != nil {
		return nil, err
	}

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list products query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []service.Product
	for rows.Next() {
		var p service.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.AcceptingCrashes); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		out = append(out, p)
	}

	return out, rows.Err()
}
