package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/muz"

	"github.com/crashvault/crashvault/internal/config"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrateDB runs every pending schema migration against db using muz's
// embedded-FS driver, the same mechanism the teacher uses for its own
// schema.
func MigrateDB(ctx context.Context, cfg config.Migrate, db *sql.DB) error {
	if db == nil {
		return errors.New("migrate: database connection is nil")
	}

	table := cfg.Table
	if table == "" {
		table = "crashvault_migrations"
	}

	m := muz.Migrate{
		Path:      "migrations",
		FS:        migrationFS,
		Extension: ".sql",
	}

	driver := muz.NewPostgresDriver(db, table, slog.Default())

	if err := m.Migrate(ctx, driver); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
