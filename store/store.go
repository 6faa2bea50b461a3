package store

import (
	"context"

	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/webhook"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (memory, sqlite, postgres, redis) implements all of them.
type Store interface {
	job.Store
	dlq.Store
	webhook.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
