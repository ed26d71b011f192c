package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/dlq"
	"github.com/taskfair/taskfair/id"
)

// PushDLQ adds a dead-lettered job entry.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()

	raw, err := encode(entry)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dlqKey(eID), raw, 0)
	pipe.SAdd(ctx, dlqIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("taskfair/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest
// failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("taskfair/redis: list dlq: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		e, err := s.loadDLQ(ctx, eID)
		if err != nil {
			if errors.Is(err, taskfair.ErrDLQNotFound) {
				continue
			}
			return nil, err
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.Before(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	return s.loadDLQ(ctx, entryID.String())
}

func (s *Store) loadDLQ(ctx context.Context, eID string) (*dlq.Entry, error) {
	raw, err := s.client.Get(ctx, dlqKey(eID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, taskfair.ErrDLQNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskfair/redis: get dlq: %w", err)
	}

	var e dlq.Entry
	if err := decode(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkResubmitted records the resubmission time on an entry.
func (s *Store) MarkResubmitted(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())

	return s.watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return taskfair.ErrDLQNotFound
		}
		if err != nil {
			return fmt.Errorf("taskfair/redis: mark resubmitted: %w", err)
		}

		var e dlq.Entry
		if err := decode(raw, &e); err != nil {
			return err
		}
		now := time.Now().UTC()
		e.ResubmittedAt = &now

		updated, err := encode(&e)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err != nil {
			return fmt.Errorf("taskfair/redis: mark resubmitted: %w", err)
		}
		return nil
	}, key)
}

// PurgeDLQ removes entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("taskfair/redis: purge dlq: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		e, err := s.loadDLQ(ctx, eID)
		if err != nil {
			if errors.Is(err, taskfair.ErrDLQNotFound) {
				continue
			}
			return purged, err
		}
		if !e.FailedAt.Before(before) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, dlqKey(eID))
		pipe.SRem(ctx, dlqIDsKey, eID)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("taskfair/redis: purge dlq: %w", err)
		}
		purged++
	}
	return purged, nil
}

// CountDLQ returns the total number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("taskfair/redis: count dlq: %w", err)
	}
	return n, nil
}
