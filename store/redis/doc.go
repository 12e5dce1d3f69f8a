// Package redis implements store.Store on Redis with go-redis/v9.
//
// Each run marker is a Hash. TryClaim is a Lua script that compares the
// stored attempt time against the window and writes the new one in the same
// atomic step. Audit records are msgpack blobs written with SETNX and
// indexed by Sorted Sets scored on start time (all records, per unit, per
// trigger, and on-demand).
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client, redis.WithKeyPrefix("taskrun:"))
//	if err := s.Ping(ctx); err != nil { ... }
package redis
