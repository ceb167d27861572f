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

var crashSortColumns = map[string]struct{}{
	"id": {}, "product_id": {}, "version": {}, "channel": {}, "state": {}, "submission_timestamp": {},
}

func (s *Store) crashColumns() []any {
	return []any{
		"id", "product_id", "version", "channel", "commit", "build_id", "state",
		"minidump_storage_id", "report", "signature", "submission_timestamp",
	}
}

func scanCrash(row interface{ Scan(...any) error }) (*service.Crash, error) {
	var c service.Crash
	var minidumpStorageID sql.NullString
	var report []byte
	var signature sql.NullString

	if err := row.Scan(
		&c.ID, &c.ProductID, &c.Version, &c.Channel, &c.Commit, &c.BuildID, &c.State,
		&minidumpStorageID, &report, &signature, &c.SubmissionTimestamp,
	); err != nil {
		return nil, err
	}

	if minidumpStorageID.Valid {
		id, err := uuid.Parse(minidumpStorageID.String)
		if err != nil {
			return nil, fmt.Errorf("parse minidump_storage_id: %w", err)
		}
		c.MinidumpStorageID = &id
	}
	if len(report) > 0 {
		c.Report = report
	}
	if signature.Valid {
		c.Signature = &signature.String
	}

	return &c, nil
}

func (s *Store) GetCrash(ctx context.Context, id uuid.UUID) (*service.Crash, error) {
	query, _, err := s.goqu.From(s.tableCrashes).
		Select(s.crashColumns()...).
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get crash query: %w", err)
	}

	c, err := scanCrash(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get crash: %w", err)
	}
	return c, nil
}

func (s *Store) ListCrashes(ctx context.Context, q service.QueryParams) ([]service.Crash, error) {
	ds, err := applyQueryParams(
		s.goqu.From(s.tableCrashes).Select(s.crashColumns()...),
		q, crashSortColumns, "version",
	)
	if err != nil {
		return nil, err
	}

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list crashes query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list crashes: %w", err)
	}
	defer rows.Close()

	var out []service.Crash
	for rows.Next() {
		c, err := scanCrash(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crash row: %w", err)
		}
		out = append(out, *c)
	}

	return out, rows.Err()
}

// CreatePendingCrash, CompleteCrash, FailCrash, and DeleteCrash are also
// exposed directly on Store (outside a Tx). Intake and the worker's commit
// go through BeginAdmin; the worker marks a crash failed with FailCrash and
// the reaper purges with DeleteCrash directly on Store.

func (s *Store) CreatePendingCrash(ctx context.Context, c service.Crash) (*service.Crash, error) {
	return insertPendingCrash(ctx, s.db, s.goqu, s.tableCrashes, c)
}

func (s *Store) CompleteCrash(ctx context.Context, id uuid.UUID, report []byte, signature string) error {
	return completeCrash(ctx, s.db, s.goqu, s.tableCrashes, id, report, signature)
}

func (s *Store) FailCrash(ctx context.Context, id uuid.UUID, reason string) error {
	return failCrash(ctx, s.db, s.goqu, s.tableCrashes, id, reason)
}

func (s *Store) DeleteCrash(ctx context.Context, id uuid.UUID) error {
	query, _, err := s.goqu.Delete(s.tableCrashes).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete crash query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete crash %s: %w", id, err)
	}
	return nil
}
