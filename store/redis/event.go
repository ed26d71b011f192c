package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/event"
	"github.com/taskfair/taskfair/id"
)

// PublishEvent persists a new event and adds it to the kind's stream.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	eID := evt.ID.String()

	raw, err := encode(evt)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, eventKey(eID), raw, 0)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: eventStreamKey(string(evt.Kind)),
		Values: map[string]interface{}{
			"event_id": eID,
		},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("taskfair/redis: publish event: %w", err)
	}
	return nil
}

// SubscribeEvent waits for an unacked event of the given kind. Returns
// nil if none arrives within the timeout.
func (s *Store) SubscribeEvent(ctx context.Context, kind event.Kind, timeout time.Duration) (*event.Event, error) {
	stream := eventStreamKey(string(kind))
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		// Oldest entries first, so acked events are skipped in order.
		msgs, err := s.client.XRangeN(ctx, stream, "-", "+", 10).Result()
		if err != nil {
			return nil, fmt.Errorf("taskfair/redis: subscribe xrange: %w", err)
		}

		for _, msg := range msgs {
			eID, ok := msg.Values["event_id"].(string)
			if !ok {
				continue
			}

			acked, err := s.client.SIsMember(ctx, ackedEventsKey, eID).Result()
			if err != nil || acked {
				continue
			}

			raw, err := s.client.Get(ctx, eventKey(eID)).Bytes()
			if err != nil {
				continue
			}
			var evt event.Event
			if err := decode(raw, &evt); err != nil {
				continue
			}
			return &evt, nil
		}

		block := 50 * time.Millisecond
		if block > remaining {
			block = remaining
		}
		sleepCtx(ctx, block)
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (s *Store) AckEvent(ctx context.Context, eventID id.EventID) error {
	eID := eventID.String()
	key := eventKey(eID)

	return s.watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return taskfair.ErrEventNotFound
		}
		if err != nil {
			return fmt.Errorf("taskfair/redis: ack event: %w", err)
		}

		var evt event.Event
		if err := decode(raw, &evt); err != nil {
			return err
		}
		evt.Acked = true

		updated, err := encode(&evt)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.SAdd(ctx, ackedEventsKey, eID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("taskfair/redis: ack event: %w", err)
		}
		return nil
	}, key)
}

// sleepCtx sleeps for the given duration, or returns early if the
// context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
