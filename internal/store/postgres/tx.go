package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"github.com/crashvault/crashvault/internal/service"
)

// dbExecutor is the subset of *sql.DB / *sql.Tx every helper in this
// package needs, so CreatePendingCrash etc. can run standalone (via Store)
// or inside the single transaction BeginAdmin hands intake and the worker.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// sqlAdminTx is the service.Tx handle BeginAdmin returns: a single
// *sql.Tx backing crash-row creation (intake) or crash-update plus
// attachment/annotation inserts (worker).
type sqlAdminTx struct {
	store *Store
	tx    *sql.Tx
}

func (s *Store) BeginAdmin(ctx context.Context) (service.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin admin transaction: %w", err)
	}
	return &sqlAdminTx{store: s, tx: tx}, nil
}

func (t *sqlAdminTx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *sqlAdminTx) Rollback(context.Context) error { return t.tx.Rollback() }

func (t *sqlAdminTx) CreatePendingCrash(ctx context.Context, c service.Crash) (*service.Crash, error) {
	return insertPendingCrash(ctx, t.tx, t.store.goqu, t.store.tableCrashes, c)
}

func (t *sqlAdminTx) GetCrash(ctx context.Context, id uuid.UUID) (*service.Crash, error) {
	return t.store.GetCrash(ctx, id)
}

func (t *sqlAdminTx) ListCrashes(ctx context.Context, q service.QueryParams) ([]service.Crash, error) {
	return t.store.ListCrashes(ctx, q)
}

func (t *sqlAdminTx) CompleteCrash(ctx context.Context, id uuid.UUID, report []byte, signature string) error {
	return completeCrash(ctx, t.tx, t.store.goqu, t.store.tableCrashes, id, report, signature)
}

func (t *sqlAdminTx) FailCrash(ctx context.Context, id uuid.UUID, reason string) error {
	return failCrash(ctx, t.tx, t.store.goqu, t.store.tableCrashes, id, reason)
}

func (t *sqlAdminTx) DeleteCrash(ctx context.Context, id uuid.UUID) error {
	query, _, err := t.store.goqu.Delete(t.store.tableCrashes).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete crash query: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete crash %s: %w", id, err)
	}
	return nil
}

func (t *sqlAdminTx) CreateAttachment(ctx context.Context, a service.Attachment) error {
	return insertAttachment(ctx, t.tx, t.store.goqu, t.store.tableAttachments, a)
}

func (t *sqlAdminTx) ListAttachments(ctx context.Context, crashID uuid.UUID) ([]service.Attachment, error) {
	return t.store.ListAttachments(ctx, crashID)
}

func (t *sqlAdminTx) CreateAnnotation(ctx context.Context, a service.Annotation) error {
	return insertAnnotation(ctx, t.tx, t.store.goqu, t.store.tableAnnotations, a)
}

func (t *sqlAdminTx) ListAnnotations(ctx context.Context, crashID uuid.UUID) ([]service.Annotation, error) {
	return t.store.ListAnnotations(ctx, crashID)
}

func insertPendingCrash(ctx context.Context, exec dbExecutor, g *goqu.Database, table exp.IdentifierExpression, c service.Crash) (*service.Crash, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.State = service.CrashPending

	record := goqu.Record{
		"id":                   c.ID,
		"product_id":           c.ProductID,
		"version":              c.Version,
		"channel":              c.Channel,
		"commit":               c.Commit,
		"build_id":             c.BuildID,
		"state":                string(c.State),
		"minidump_storage_id":  c.MinidumpStorageID,
		"submission_timestamp": c.SubmissionTimestamp,
	}

	query, _, err := g.Insert(table).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert crash query: %w", err)
	}

	if _, err := exec.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("insert crash: %w", err)
	}

	return &c, nil
}

func completeCrash(ctx context.Context, exec dbExecutor, g *goqu.Database, table exp.IdentifierExpression, id uuid.UUID, report []byte, signature string) error {
	query, _, err := g.Update(table).Set(goqu.Record{
		"state":     string(service.CrashProcessed),
		"report":    report,
		"signature": signature,
	}).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build complete crash query: %w", err)
	}

	if _, err := exec.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("complete crash %s: %w", id, err)
	}
	return nil
}

func failCrash(ctx context.Context, exec dbExecutor, g *goqu.Database, table exp.IdentifierExpression, id uuid.UUID, reason string) error {
	query, _, err := g.Update(table).Set(goqu.Record{
		"state":          string(service.CrashFailed),
		"failure_reason": reason,
	}).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build fail crash query: %w", err)
	}

	if _, err := exec.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("fail crash %s: %w", id, err)
	}
	return nil
}

func insertAttachment(ctx context.Context, exec dbExecutor, g *goqu.Database, table exp.IdentifierExpression, a service.Attachment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	record := goqu.Record{
		"id":           a.ID,
		"crash_id":     a.CrashID,
		"product_id":   a.ProductID,
		"name":         a.Name,
		"filename":     a.Filename,
		"mime_type":    a.MimeType,
		"size":         a.Size,
		"storage_path": a.StoragePath,
		"storage_id":   a.StorageID,
	}

	query, _, err := g.Insert(table).Rows(record).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert attachment query: %w", err)
	}
	if _, err := exec.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func insertAnnotation(ctx context.Context, exec dbExecutor, g *goqu.Database, table exp.IdentifierExpression, a service.Annotation) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	record := goqu.Record{
		"id":         a.ID,
		"crash_id":   a.CrashID,
		"product_id": a.ProductID,
		"key":        a.Key,
		"value":      a.Value,
		"kind":       string(a.Kind),
	}

	query, _, err := g.Insert(table).Rows(record).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert annotation query: %w", err)
	}
	if _, err := exec.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}
	return nil
}
