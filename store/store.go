// Package store defines the aggregate persistence interface. Each
// subsystem (job, worker, dlq, event, treasury) defines its own store
// interface. The composite Store composes them all. Backends: Memory,
// Redis, and Bun (Postgres).
package store

import (
	"context"

	"github.com/taskfair/taskfair/dlq"
	"github.com/taskfair/taskfair/event"
	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/treasury"
	"github.com/taskfair/taskfair/worker"
)

// Store is the aggregate persistence interface. Each subsystem store is
// a composable interface; a single backend implements all of them.
type Store interface {
	job.Store
	worker.Registry
	dlq.Store
	event.Store
	treasury.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
