package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/worker"
)

// UpsertSubscription creates or replaces the subscription for sub.Actor.
// The ON CONFLICT clause leaves id and created_at untouched, so the
// original identity survives a re-subscribe.
func (s *Store) UpsertSubscription(ctx context.Context, sub *worker.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (actor) DO UPDATE").
		Set("queues = EXCLUDED.queues").
		Set("batch_size = EXCLUDED.batch_size").
		Set("visibility_timeout = EXCLUDED.visibility_timeout").
		Set("last_seen = EXCLUDED.last_seen").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskfair/bun: upsert subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves the subscription for an actor.
func (s *Store) GetSubscription(ctx context.Context, actor taskfair.Actor) (*worker.Subscription, error) {
	m := new(subscriptionModel)
	err := s.db.NewSelect().Model(m).
		Where("actor = ?", string(actor)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, taskfair.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("taskfair/bun: get subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

// ListSubscriptions returns subscriptions, optionally filtered to those
// covering the given queue.
func (s *Store) ListSubscriptions(ctx context.Context, queue string) ([]*worker.Subscription, error) {
	var models []subscriptionModel
	q := s.db.NewSelect().Model(&models)

	if queue != "" {
		q = q.Where("? = ANY(queues)", queue)
	}

	if err := q.Order("created_at ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("taskfair/bun: list subscriptions: %w", err)
	}

	subs := make([]*worker.Subscription, 0, len(models))
	for i := range models {
		sub, convErr := fromSubscriptionModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// DeregisterSubscription removes the actor's subscription.
func (s *Store) DeregisterSubscription(ctx context.Context, actor taskfair.Actor) error {
	res, err := s.db.NewDelete().
		TableExpr("taskfair_subscriptions").
		Where("actor = ?", string(actor)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskfair/bun: deregister subscription: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return taskfair.ErrSubscriptionNotFound
	}
	return nil
}

// TouchSubscription advances LastSeen for the actor.
func (s *Store) TouchSubscription(ctx context.Context, actor taskfair.Actor, now time.Time) error {
	res, err := s.db.NewUpdate().
		TableExpr("taskfair_subscriptions").
		Set("last_seen = ?", now).
		Set("updated_at = ?", now).
		Where("actor = ?", string(actor)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskfair/bun: touch subscription: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return taskfair.ErrSubscriptionNotFound
	}
	return nil
}
