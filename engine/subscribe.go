package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/dlq"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/queue"
	"github.com/taskfair/taskfair/worker"
)

// Subscribe registers (or updates) the worker's standing interest in a
// set of queues. Subscriptions are keyed by actor, so re-subscribing
// replaces the queue set rather than stacking a second subscription.
func (e *Engine) Subscribe(ctx context.Context, actor taskfair.Actor, queues []string, batchSize int, visibility time.Duration) (*worker.Subscription, error) {
	if actor.IsZero() {
		return nil, fmt.Errorf("%w: actor required", taskfair.ErrInvalidArgument)
	}
	if len(queues) == 0 {
		return nil, fmt.Errorf("%w: at least one queue required", taskfair.ErrInvalidArgument)
	}
	for _, q := range queues {
		if err := queue.ValidateName(q, e.config.MaxQueueNameLen); err != nil {
			return nil, err
		}
	}
	if batchSize == 0 {
		batchSize = e.config.MinBatchSize
	}
	if !e.config.ValidBatchSize(batchSize) {
		return nil, taskfair.ErrInvalidBatchSize
	}
	if visibility != 0 && !e.config.ValidTimeout(visibility) {
		return nil, taskfair.ErrInvalidTimeout
	}

	now := e.clock()
	sub := &worker.Subscription{
		Entity:            taskfair.NewEntityAt(now),
		ID:                id.NewWorkerID(),
		Actor:             actor,
		Queues:            queues,
		BatchSize:         batchSize,
		VisibilityTimeout: visibility,
		LastSeen:          now,
	}
	if err := e.workers.UpsertSubscription(ctx, sub); err != nil {
		return nil, err
	}
	// Re-read: on replace the store preserves the original ID and
	// creation time.
	return e.workers.GetSubscription(ctx, actor)
}

// Unsubscribe removes the actor's subscription. Live leases are
// unaffected; they expire or resolve on their own.
func (e *Engine) Unsubscribe(ctx context.Context, actor taskfair.Actor) error {
	return e.workers.DeregisterSubscription(ctx, actor)
}

// Subscription returns the actor's current subscription.
func (e *Engine) Subscription(ctx context.Context, actor taskfair.Actor) (*worker.Subscription, error) {
	return e.workers.GetSubscription(ctx, actor)
}

// Subscriptions lists registered workers, optionally filtered to those
// covering a queue.
func (e *Engine) Subscriptions(ctx context.Context, queueName string) ([]*worker.Subscription, error) {
	return e.workers.ListSubscriptions(ctx, queueName)
}

// ResubmitDeadLetter creates a fresh job from a DLQ entry, charging the
// original submitter a fresh escrow deposit. Only the submitter or an
// admin may call it.
func (e *Engine) ResubmitDeadLetter(ctx context.Context, entryID id.DLQID, caller taskfair.Actor) (*job.Job, error) {
	entry, err := e.dlq.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Submitter != caller && !e.config.IsAdmin(caller) {
		return nil, fmt.Errorf("resubmit entry %s: %w", entryID, taskfair.ErrUnauthorized)
	}

	j, err := e.dlq.Resubmit(ctx, entryID, e.clock())
	if err != nil {
		return nil, err
	}
	e.extensions.EmitJobSubmitted(ctx, j)
	return j, nil
}

// DeadLetters lists DLQ entries.
func (e *Engine) DeadLetters(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	return e.dlq.List(ctx, opts)
}
