package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/worker"
)

// UpsertSubscription creates or replaces the subscription for sub.Actor,
// preserving the original ID and CreatedAt on replace.
func (s *Store) UpsertSubscription(ctx context.Context, sub *worker.Subscription) error {
	actor := string(sub.Actor)
	key := subKey(actor)

	return s.watch(ctx, func(tx *goredis.Tx) error {
		cp := *sub
		raw, err := tx.Get(ctx, key).Bytes()
		if err == nil {
			var existing worker.Subscription
			if err := decode(raw, &existing); err != nil {
				return err
			}
			cp.ID = existing.ID
			cp.CreatedAt = existing.CreatedAt
		} else if !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("taskfair/redis: upsert subscription: %w", err)
		}

		updated, err := encode(&cp)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.SAdd(ctx, subActorsKey, actor)
			return nil
		})
		if err != nil {
			return fmt.Errorf("taskfair/redis: upsert subscription: %w", err)
		}
		return nil
	}, key)
}

// GetSubscription retrieves the subscription for an actor.
func (s *Store) GetSubscription(ctx context.Context, actor taskfair.Actor) (*worker.Subscription, error) {
	raw, err := s.client.Get(ctx, subKey(string(actor))).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, taskfair.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskfair/redis: get subscription: %w", err)
	}

	var sub worker.Subscription
	if err := decode(raw, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptions returns subscriptions, optionally filtered to those
// covering the given queue.
func (s *Store) ListSubscriptions(ctx context.Context, queue string) ([]*worker.Subscription, error) {
	actors, err := s.client.SMembers(ctx, subActorsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("taskfair/redis: list subscriptions: %w", err)
	}

	result := make([]*worker.Subscription, 0, len(actors))
	for _, actor := range actors {
		sub, err := s.GetSubscription(ctx, taskfair.Actor(actor))
		if err != nil {
			if errors.Is(err, taskfair.ErrSubscriptionNotFound) {
				continue
			}
			return nil, err
		}
		if queue != "" && !sub.Covers(queue) {
			continue
		}
		result = append(result, sub)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// DeregisterSubscription removes the actor's subscription.
func (s *Store) DeregisterSubscription(ctx context.Context, actor taskfair.Actor) error {
	key := subKey(string(actor))

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("taskfair/redis: deregister subscription: %w", err)
	}
	if exists == 0 {
		return taskfair.ErrSubscriptionNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, subActorsKey, string(actor))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("taskfair/redis: deregister subscription: %w", err)
	}
	return nil
}

// TouchSubscription advances LastSeen for the actor.
func (s *Store) TouchSubscription(ctx context.Context, actor taskfair.Actor, now time.Time) error {
	key := subKey(string(actor))

	return s.watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return taskfair.ErrSubscriptionNotFound
		}
		if err != nil {
			return fmt.Errorf("taskfair/redis: touch subscription: %w", err)
		}

		var sub worker.Subscription
		if err := decode(raw, &sub); err != nil {
			return err
		}
		sub.LastSeen = now
		sub.UpdatedAt = now

		updated, err := encode(&sub)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err != nil {
			return fmt.Errorf("taskfair/redis: touch subscription: %w", err)
		}
		return nil
	}, key)
}
