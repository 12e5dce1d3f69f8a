package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/taskrun/config"
	"github.com/xraph/taskrun/store"
	bunstore "github.com/xraph/taskrun/store/bun"
	"github.com/xraph/taskrun/store/memory"
	mongostore "github.com/xraph/taskrun/store/mongo"
	"github.com/xraph/taskrun/store/postgres"
	redisstore "github.com/xraph/taskrun/store/redis"
	"github.com/xraph/taskrun/store/sqlite"
)

// openStore connects the configured ledger backend. The returned close
// function releases the store and any client opened for it.
func openStore(ctx context.Context, cfg config.Store, logger *slog.Logger) (store.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		s := memory.New()
		return s, s.Close, nil

	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.DSN, cfg.BusyTimeout, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.DriverBun:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		s := bunstore.New(db, bunstore.WithLogger(logger))
		return s, db.Close, nil

	case config.DriverRedis:
		ropts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("redis dsn: %w", err)
		}
		client := goredis.NewClient(ropts)
		sopts := []redisstore.Option{redisstore.WithLogger(logger)}
		if cfg.KeyPrefix != "" {
			sopts = append(sopts, redisstore.WithKeyPrefix(cfg.KeyPrefix))
		}
		return redisstore.New(client, sopts...), client.Close, nil

	case config.DriverMongo:
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		s := mongostore.New(client.Database(cfg.Database), mongostore.WithLogger(logger))
		return s, func() error { return client.Disconnect(context.Background()) }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
