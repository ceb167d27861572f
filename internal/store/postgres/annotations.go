package postgres

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/service"
)

func (s *Store) CreateAnnotation(ctx context.Context, a service.Annotation) error {
	return insertAnnotation(ctx, s.db, s.goqu, s.tableAnnotations, a)
}

func (s *Store) ListAnnotations(ctx context.Context, crashID uuid.UUID) ([]service.Annotation, error) {
	query, _, err := s.goqu.From(s.tableAnnotations).
		Select("id", "crash_id", "product_id", "key", "value", "kind").
		Where(goqu.I("crash_id").Eq(crashID)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list annotations query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	var out []service.Annotation
	for rows.Next() {
		var a service.Annotation
		var kind string
		if err := rows.Scan(&a.ID, &a.CrashID, &a.ProductID, &a.Key, &a.Value, &kind); err != nil {
			return nil, fmt.Errorf("scan annotation row: %w", err)
		}
		a.Kind = service.AnnotationKind(kind)
		out = append(out, a)
	}

	return out, rows.Err()
}
