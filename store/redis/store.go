package redis

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/taskrun/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeyPrefix namespaces every key. On Redis Cluster use a hash-tagged
// prefix such as "{taskrun}:" so the claim and record scripts touch one slot.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.Cmdable
	prefix string
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultKeyPrefix, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if !strings.HasSuffix(s.prefix, ":") {
		s.prefix += ":"
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless). It preloads the Lua scripts so
// the first claim does not pay for an EVAL round trip.
func (s *Store) Migrate(ctx context.Context) error {
	if err := claimScript.Load(ctx, s.client).Err(); err != nil {
		return err
	}
	return recordScript.Load(ctx, s.client).Err()
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
