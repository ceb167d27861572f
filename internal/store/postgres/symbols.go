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

var symbolSortColumns = map[string]struct{}{
	"id": {}, "os": {}, "arch": {}, "build_id": {}, "module_id": {},
}

// sqlSymbolTx wraps a *sql.Tx so UpsertSymbol can run its insert inside the
// caller's transaction (symbol row first, blob stream second, per §4.4).
type sqlSymbolTx struct{ tx *sql.Tx }

func (t *sqlSymbolTx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *sqlSymbolTx) Rollback(context.Context) error { return t.tx.Rollback() }

func (s *Store) BeginSymbol(ctx context.Context) (service.SymbolTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin symbol transaction: %w", err)
	}
	return &sqlSymbolTx{tx: tx}, nil
}

// UpsertSymbol inserts or overwrites the symbol row for
// (product, module_id, build_id) within tx, last write wins.
func (s *Store) UpsertSymbol(ctx context.Context, tx service.SymbolTx, sym service.Symbol) error {
	st, ok := tx.(*sqlSymbolTx)
	if !ok {
		return errors.New("upsert symbol: tx is not a postgres symbol transaction")
	}

	if sym.ID == uuid.Nil {
		sym.ID = uuid.New()
	}

	record := goqu.Record{
		"id":           sym.ID,
		"product_id":   sym.ProductID,
		"os":           sym.OS,
		"arch":         sym.Arch,
		"build_id":     sym.BuildID,
		"module_id":    sym.ModuleID,
		"storage_path": sym.StoragePath,
	}

	query, _, err := s.goqu.Insert(s.tableSymbols).
		Rows(record).
		OnConflict(goqu.DoUpdate("product_id,module_id,build_id", goqu.Record{
			"os":           sym.OS,
			"arch":         sym.Arch,
			"storage_path": sym.StoragePath,
		})).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build upsert symbol query: %w", err)
	}

	if _, err := st.tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("upsert symbol: %w", err)
	}

	return nil
}

func (s *Store) GetSymbol(ctx context.Context, productID uuid.UUID, moduleID, buildID string) (*service.Symbol, error) {
	query, _, err := s.goqu.From(s.tableSymbols).
		Select("id", "product_id", "os", "arch", "build_id", "module_id", "storage_path").
		Where(
			goqu.I("product_id").Eq(productID),
			goqu.I("module_id").Eq(moduleID),
			goqu.I("build_id").Eq(buildID),
		).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get symbol query: %w", err)
	}

	var sym service.Symbol
	err = s.db.QueryRowContext(ctx, query).Scan(
		&sym.ID, &sym.ProductID, &sym.OS, &sym.Arch, &sym.BuildID, &sym.ModuleID, &sym.StoragePath,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get symbol: %w", err)
	}

	return &sym, nil
}

func (s *Store) ListSymbols(ctx context.Context, q service.QueryParams) ([]service.Symbol, error) {
	ds, err := applyQueryParams(
		s.goqu.From(s.tableSymbols).Select("id", "product_id", "os", "arch", "build_id", "module_id", "storage_path"),
		q, symbolSortColumns, "module_id",
	)
	if err != nil {
		return nil, err
	}

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list symbols query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer rows.Close()

	var out []service.Symbol
	for rows.Next() {
		var sym service.Symbol
		if err := rows.Scan(&sym.ID, &sym.ProductID, &sym.OS, &sym.Arch, &sym.BuildID, &sym.ModuleID, &sym.StoragePath); err != nil {
			return nil, fmt.Errorf("scan symbol row: %w", err)
		}
		out = append(out, sym)
	}

	return out, rows.Err()
}
