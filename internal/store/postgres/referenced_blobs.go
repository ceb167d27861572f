package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
)

// ReferencedBlobUUIDs returns every minidump/attachment storage id the
// metadata repository still references, for the orphan reaper (spec §4.8).
// Crash-descriptor references are collected separately by the reaper
// itself, by scanning crashes/*.json.
func (s *Store) ReferencedBlobUUIDs(ctx context.Context) (map[uuid.UUID]struct{}, error) {
	out := map[uuid.UUID]struct{}{}

	minidumpQuery, _, err := s.goqu.From(s.tableCrashes).
		Select("minidump_storage_id").
		Where(goqu.I("minidump_storage_id").IsNotNull()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build crashes minidump query: %w", err)
	}
	if err := collectUUIDColumn(ctx, s.db, minidumpQuery, out); err != nil {
		return nil, fmt.Errorf("collect referenced minidumps: %w", err)
	}

	attachmentQuery, _, err := s.goqu.From(s.tableAttachments).
		Select("storage_id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build attachments query: %w", err)
	}
	if err := collectUUIDColumn(ctx, s.db, attachmentQuery, out); err != nil {
		return nil, fmt.Errorf("collect referenced attachments: %w", err)
	}

	return out, nil
}

func collectUUIDColumn(ctx context.Context, db *sql.DB, query string, out map[uuid.UUID]struct{}) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse uuid %q: %w", raw, err)
		}
		out[id] = struct{}{}
	}

	return rows.Err()
}
