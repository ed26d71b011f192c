// Package event provides the transition notification stream of the
// marketplace: one Event per state transition, published through a Store
// and consumed by external observers via Subscribe.
package event

import (
	"context"
	"time"

	"github.com/taskfair/taskfair/id"
)

// Bus provides high-level publish/subscribe operations over an event
// Store. The engine publishes through it; external dashboards subscribe
// instead of polling every job.
type Bus struct {
	store Store
}

// NewBus creates an event bus backed by the given store.
func NewBus(store Store) *Bus {
	return &Bus{store: store}
}

// Publish persists evt, stamping its ID and creation time if unset.
func (b *Bus) Publish(ctx context.Context, evt *Event) error {
	if evt.ID.IsNil() {
		evt.ID = id.NewEventID()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	return b.store.PublishEvent(ctx, evt)
}

// Subscribe waits for an unacked event of the given kind. Blocks until
// available or timeout. Returns nil on timeout.
func (b *Bus) Subscribe(ctx context.Context, kind Kind, timeout time.Duration) (*Event, error) {
	return b.store.SubscribeEvent(ctx, kind, timeout)
}

// Ack acknowledges an event, marking it as consumed.
func (b *Bus) Ack(ctx context.Context, eventID id.EventID) error {
	return b.store.AckEvent(ctx, eventID)
}

// Store returns the underlying event store.
func (b *Bus) Store() Store { return b.store }
