package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/taskrun/store"
)

// Collection name constants.
const (
	colMarkers = "run_marker"
	colRecords = "execution_audit"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store.
// The caller owns the client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
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

// New creates a new MongoDB store on db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates indexes for the ledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("taskrun/mongo: migrate %s indexes: %w", col, err)
		}
		s.logger.Debug("ensured indexes", "collection", col, "count", len(models))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	return err != nil && mongod.IsDuplicateKeyError(err)
}

// migrationIndexes returns the index definitions for the ledger collections.
// Markers need none beyond _id.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colRecords: {
			{Keys: bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: -1}}},
			{Keys: bson.D{{Key: "unit_name", Value: 1}, {Key: "started_at", Value: -1}}},
			{Keys: bson.D{
				{Key: "trigger.task_name", Value: 1},
				{Key: "trigger.cron_profile_id", Value: 1},
				{Key: "trigger.cron_profile_type", Value: 1},
				{Key: "started_at", Value: -1},
			}},
		},
	}
}
