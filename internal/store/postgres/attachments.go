package postgres

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/service"
)

func (s *Store) CreateAttachment(ctx context.Context, a service.Attachment) error {
	return insertAttachment(ctx, s.db, s.goqu, s.tableAttachments, a)
}

func (s *Store) ListAttachments(ctx context.Context, crashID uuid.UUID) ([]service.Attachment, error) {
	query, _, err := s.goqu.From(s.tableAttachments).
		Select("id", "crash_id", "product_id", "name", "filename", "mime_type", "size", "storage_path", "storage_id").
		Where(goqu.I("crash_id").Eq(crashID)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list attachments query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []service.Attachment
	for rows.Next() {
		var a service.Attachment
		if err := rows.Scan(&a.ID, &a.CrashID, &a.ProductID, &a.Name, &a.Filename, &a.MimeType, &a.Size, &a.StoragePath, &a.StorageID); err != nil {
			return nil, fmt.Errorf("scan attachment row: %w", err)
		}
		out = append(out, a)
	}

	return out, rows.Err()
}
