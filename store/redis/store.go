// Package redis implements store.Store using Redis for high-throughput
// deployments. Records are stored as msgpack blobs, each queue's pending
// index is a Sorted Set ordered by stake, leases live in a deadline-scored
// Sorted Set, and events ride Redis Streams. Conditional writes (lease
// claims, status swaps, receipt closes) run as WATCH/MULTI transactions,
// so two nodes never both win the same transition.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/taskfair/taskfair/dlq"
	"github.com/taskfair/taskfair/event"
	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/treasury"
	"github.com/taskfair/taskfair/worker"
)

// Compile-time interface checks.
var (
	_ job.Store       = (*Store)(nil)
	_ worker.Registry = (*Store)(nil)
	_ dlq.Store       = (*Store)(nil)
	_ event.Store     = (*Store)(nil)
	_ treasury.Store  = (*Store)(nil)
)

// casAttempts bounds how often an optimistic transaction retries after
// losing a WATCH race before giving up.
const casAttempts = 8

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// watch runs fn as an optimistic WATCH/MULTI transaction, retrying a
// bounded number of times when a watched key changes under it.
func (s *Store) watch(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
	for range casAttempts {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("taskfair/redis: transaction on %v kept losing watch races", keys)
}

// encode marshals a record to its stored msgpack form.
func encode(v any) ([]byte, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("taskfair/redis: encode %T: %w", v, err)
	}
	return raw, nil
}

// decode unmarshals a stored msgpack blob into v.
func decode(raw []byte, v any) error {
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("taskfair/redis: decode %T: %w", v, err)
	}
	return nil
}
