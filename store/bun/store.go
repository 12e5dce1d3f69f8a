package bunstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/uptrace/bun"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a Bun ORM implementation of store.Store using PostgreSQL dialect.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Bun store. The caller owns the db lifecycle: the Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// migrationLock is the advisory lock key that serializes Migrate across
// processes; it matches the pgx store so the two never race on one schema.
const migrationLock int64 = 0x7461736b72756e

// Migrate applies the embedded migrations in filename order, one
// transaction per file under a transaction-scoped advisory lock.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", migrationLock); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS taskrun_migrations (
				filename   TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`)
		return err
	})
	if err != nil {
		return fmt.Errorf("taskrun/bun: create migrations table: %w", err)
	}

	entries, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("taskrun/bun: read migrations: %w", err)
	}
	sort.Strings(entries)

	for _, path := range entries {
		name := strings.TrimPrefix(path, "migrations/")
		data, err := fs.ReadFile(migrationsFS, path)
		if err != nil {
			return fmt.Errorf("taskrun/bun: read migration %s: %w", name, err)
		}

		applied := false
		err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", migrationLock); err != nil {
				return fmt.Errorf("taskrun/bun: lock migrations: %w", err)
			}
			done, err := tx.NewSelect().
				Table("taskrun_migrations").
				Where("filename = ?", name).
				Exists(ctx)
			if err != nil {
				return fmt.Errorf("taskrun/bun: check migration %s: %w", name, err)
			}
			if done {
				return nil
			}
			if _, err := tx.ExecContext(ctx, string(data)); err != nil {
				return fmt.Errorf("%w: %s: %w", taskrun.ErrMigrationFailed, name, err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO taskrun_migrations (filename) VALUES (?)", name); err != nil {
				return fmt.Errorf("taskrun/bun: record migration %s: %w", name, err)
			}
			applied = true
			return nil
		})
		if err != nil {
			return err
		}
		if applied {
			s.logger.Info("applied migration", slog.String("file", name))
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}
