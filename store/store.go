// Package store defines the aggregate persistence interface. The ledger
// package owns the run-marker and audit-history contract; Store adds the
// lifecycle operations every backend shares. Backends: Postgres, Bun,
// SQLite, Redis, MongoDB, and Memory.
package store

import (
	"context"

	"github.com/xraph/taskrun/ledger"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, bun, sqlite, etc.) implements all of it.
type Store interface {
	ledger.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
