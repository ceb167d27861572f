// Package postgres is the production implementation of service.AdminStorer:
// a goqu query builder over database/sql with the pgx stdlib driver, the
// same stack the teacher uses for its own metadata tables.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/crashvault/crashvault/internal/config"
)

var (
	DefaultConnMaxLifetime = 15 * time.Minute
	DefaultMaxIdleConns    = 4
	DefaultMaxOpenConns    = 16
)

// Store is the Postgres-backed service.AdminStorer.
type Store struct {
	db   *sql.DB
	goqu *goqu.Database

	tableProducts    exp.IdentifierExpression
	tableVersions    exp.IdentifierExpression
	tableSymbols     exp.IdentifierExpression
	tableCrashes     exp.IdentifierExpression
	tableAttachments exp.IdentifierExpression
	tableAnnotations exp.IdentifierExpression
	tableAPITokens   exp.IdentifierExpression
}

// New opens a connection pool, runs pending migrations, and returns a
// ready-to-use Store.
func New(ctx context.Context, cfg config.Store) (*Store, error) {
	if cfg.Datasource == "" {
		return nil, errors.New("postgres: datasource is required")
	}

	migrateCfg := cfg.Migrate
	if migrateCfg.Datasource == "" {
		migrateCfg.Datasource = cfg.Datasource
	}
	if migrateCfg.Schema == "" {
		migrateCfg.Schema = cfg.Schema
	}

	migrateDB, err := sql.Open("pgx", migrateCfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("postgres: open migration connection: %w", err)
	}
	defer migrateDB.Close()

	if err := MigrateDB(ctx, migrateCfg, migrateDB); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("postgres: open connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if cfg.Schema != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", cfg.Schema)); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres: set search_path: %w", err)
		}
	}

	connMaxLifetime := DefaultConnMaxLifetime
	if cfg.ConnMaxLifetime != nil {
		connMaxLifetime = *cfg.ConnMaxLifetime
	}
	maxIdleConns := DefaultMaxIdleConns
	if cfg.MaxIdleConns != nil {
		maxIdleConns = *cfg.MaxIdleConns
	}
	maxOpenConns := DefaultMaxOpenConns
	if cfg.MaxOpenConns != nil {
		maxOpenConns = *cfg.MaxOpenConns
	}

	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetMaxOpenConns(maxOpenConns)

	slog.Info("postgres: connected to metadata store")

	return &Store{
		db:               db,
		goqu:             goqu.New("postgres", db),
		tableProducts:    goqu.T("crashvault_products"),
		tableVersions:    goqu.T("crashvault_versions"),
		tableSymbols:     goqu.T("crashvault_symbols"),
		tableCrashes:     goqu.T("crashvault_crashes"),
		tableAttachments: goqu.T("crashvault_attachments"),
		tableAnnotations: goqu.T("crashvault_annotations"),
		tableAPITokens:   goqu.T("crashvault_api_tokens"),
	}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
