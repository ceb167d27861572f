// Package store selects and constructs the metadata repository
// (service.AdminStorer) backend. Postgres is the only backend wired by
// configuration; internal/store/memory exists purely as a test double.
package store

import (
	"context"

	"github.com/crashvault/crashvault/internal/config"
	"github.com/crashvault/crashvault/internal/service"
	"github.com/crashvault/crashvault/internal/store/postgres"
)

// New opens the Postgres-backed metadata repository, running migrations
// first.
func New(ctx context.Context, cfg config.Store) (service.AdminStorer, error) {
	return postgres.New(ctx, cfg)
}
