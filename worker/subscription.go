package worker

import (
	"context"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
)

// Subscription records a worker's standing interest in one or more
// queues. Subscriptions are keyed by actor: re-subscribing updates the
// existing record rather than creating a second one.
type Subscription struct {
	taskfair.Entity

	ID    id.WorkerID    `json:"id"`
	Actor taskfair.Actor `json:"actor"`

	Queues []string `json:"queues"`

	// BatchSize is the default lease batch the worker asks for.
	BatchSize int `json:"batch_size"`

	// VisibilityTimeout is the lease duration the worker requests.
	// Zero means use each job's own timeout.
	VisibilityTimeout time.Duration `json:"visibility_timeout"`

	// LastSeen is advanced on every lease poll, so stale workers can be
	// spotted without a heartbeat channel.
	LastSeen time.Time `json:"last_seen"`
}

// Registry defines the persistence contract for worker subscriptions.
type Registry interface {
	// UpsertSubscription creates or replaces the subscription for
	// sub.Actor, preserving the original ID and CreatedAt on replace.
	UpsertSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription retrieves the subscription for an actor.
	GetSubscription(ctx context.Context, actor taskfair.Actor) (*Subscription, error)

	// ListSubscriptions returns all subscriptions, optionally filtered
	// to those covering the given queue (empty means all).
	ListSubscriptions(ctx context.Context, queue string) ([]*Subscription, error)

	// DeregisterSubscription removes the actor's subscription.
	DeregisterSubscription(ctx context.Context, actor taskfair.Actor) error

	// TouchSubscription advances LastSeen for the actor.
	TouchSubscription(ctx context.Context, actor taskfair.Actor, now time.Time) error
}

// Covers reports whether the subscription includes the given queue.
func (s *Subscription) Covers(queue string) bool {
	for _, q := range s.Queues {
		if q == queue {
			return true
		}
	}
	return false
}
