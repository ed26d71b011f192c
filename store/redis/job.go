package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
)

// errSkipCandidate signals that a pending-index member turned out to be
// unclaimable (already leased, gone, or stale) and the scan should move
// to the next candidate.
var errSkipCandidate = errors.New("taskfair/redis: candidate no longer pending")

// queueScore orders the pending index: highest stake first, equal stakes
// tie-break on the K-sortable member ID, which is arrival order.
func queueScore(stake taskfair.Amount) float64 { return -float64(stake) }

// CreateJob persists a new pending job and indexes it under its queue.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	raw, err := encode(j)
	if err != nil {
		return err
	}

	return s.watch(ctx, func(tx *goredis.Tx) error {
		if _, err := tx.Get(ctx, key).Result(); err == nil {
			return taskfair.ErrJobAlreadyExists
		} else if !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("taskfair/redis: create job: %w", err)
		}

		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.SAdd(ctx, jobIDsKey, jID)
			if j.Status == job.StatusPending {
				pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{
					Score:  queueScore(j.Stake),
					Member: jID,
				})
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("taskfair/redis: create job: %w", err)
		}
		return nil
	}, key)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.loadJob(ctx, jobID.String())
}

func (s *Store) loadJob(ctx context.Context, jID string) (*job.Job, error) {
	raw, err := s.client.Get(ctx, jobKey(jID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, taskfair.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskfair/redis: get job: %w", err)
	}

	var j job.Job
	if err := decode(raw, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// LeaseJobs atomically claims up to limit jobs from the queue for the
// worker: the worker's own live leases first (untouched), then pending
// jobs by stake descending, arrival, ID. Each claim is one WATCH/MULTI
// transaction on the job key, so concurrent pollers never both win the
// same pending job.
func (s *Store) LeaseJobs(ctx context.Context, queue string, w taskfair.Actor, limit int, now time.Time, visibility time.Duration) ([]*job.Job, error) {
	own, err := s.liveLeases(ctx, queue, w, now)
	if err != nil {
		return nil, err
	}

	result := make([]*job.Job, 0, limit)
	for _, j := range own {
		if len(result) == limit {
			break
		}
		result = append(result, j)
	}

	// Top up from the pending index. A candidate that loses its claim
	// race is dropped from the index by the loser, so the scan advances.
	for len(result) < limit {
		ids, err := s.client.ZRange(ctx, queueKey(queue), 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("taskfair/redis: lease scan: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		claimed, err := s.claimPending(ctx, ids[0], queue, w, now, visibility)
		if errors.Is(err, errSkipCandidate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, claimed)
	}

	return result, nil
}

// liveLeases returns the worker's unexpired leases in the queue,
// redelivered unchanged, ordered by lease time then ID.
func (s *Store) liveLeases(ctx context.Context, queue string, w taskfair.Actor, now time.Time) ([]*job.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, leasedKey, &goredis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("taskfair/redis: live leases: %w", err)
	}

	var own []*job.Job
	for _, jID := range ids {
		j, err := s.loadJob(ctx, jID)
		if err != nil {
			if errors.Is(err, taskfair.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		if j.Status != job.StatusLeased || j.Queue != queue || j.Worker != w || j.Expired(now) {
			continue
		}
		own = append(own, j)
	}

	sort.Slice(own, func(i, k int) bool {
		if !own[i].LeasedAt.Equal(*own[k].LeasedAt) {
			return own[i].LeasedAt.Before(*own[k].LeasedAt)
		}
		return own[i].ID.String() < own[k].ID.String()
	})
	return own, nil
}

// claimPending transitions one pending job to leased for the worker.
func (s *Store) claimPending(ctx context.Context, jID, queue string, w taskfair.Actor, now time.Time, visibility time.Duration) (*job.Job, error) {
	key := jobKey(jID)

	var claimed *job.Job
	err := s.watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			// Stale index entry for a deleted job.
			s.client.ZRem(ctx, queueKey(queue), jID)
			return errSkipCandidate
		}
		if err != nil {
			return fmt.Errorf("taskfair/redis: claim job: %w", err)
		}

		var j job.Job
		if err := decode(raw, &j); err != nil {
			return err
		}
		if j.Status != job.StatusPending || j.Queue != queue {
			s.client.ZRem(ctx, queueKey(queue), jID)
			return errSkipCandidate
		}

		vis := visibility
		if vis <= 0 {
			vis = j.VisibilityTimeout
		}
		leasedAt := now
		deadline := now.Add(vis)
		j.Status = job.StatusLeased
		j.Worker = w
		j.LeasedAt = &leasedAt
		j.Deadline = &deadline
		j.UpdatedAt = now

		updated, err := encode(&j)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.ZRem(ctx, queueKey(queue), jID)
			pipe.ZAdd(ctx, leasedKey, goredis.Z{
				Score:  float64(deadline.UnixNano()),
				Member: jID,
			})
			return nil
		})
		if err != nil {
			return fmt.Errorf("taskfair/redis: claim job: %w", err)
		}
		claimed = &j
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// SwapJob persists j only if the stored job still matches the guard,
// maintaining the queue and lease indexes in the same transaction.
func (s *Store) SwapJob(ctx context.Context, j *job.Job, expected job.Guard) error {
	jID := j.ID.String()
	key := jobKey(jID)

	raw, err := encode(j)
	if err != nil {
		return err
	}

	return s.watch(ctx, func(tx *goredis.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return taskfair.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("taskfair/redis: swap job: %w", err)
		}

		var prev job.Job
		if err := decode(stored, &prev); err != nil {
			return err
		}
		if !expected.Matches(&prev) {
			return taskfair.ErrInvalidState
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.ZRem(ctx, queueKey(prev.Queue), jID)
			pipe.ZRem(ctx, leasedKey, jID)
			switch j.Status {
			case job.StatusPending:
				pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{
					Score:  queueScore(j.Stake),
					Member: jID,
				})
			case job.StatusLeased:
				if j.Deadline != nil {
					pipe.ZAdd(ctx, leasedKey, goredis.Z{
						Score:  float64(j.Deadline.UnixNano()),
						Member: jID,
					})
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("taskfair/redis: swap job: %w", err)
		}
		return nil
	}, key)
}

// DeleteJob removes the job only if its stored status still equals
// expected, deindexing it in the same transaction.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID, expected job.Status) error {
	jID := jobID.String()
	key := jobKey(jID)

	return s.watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return taskfair.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("taskfair/redis: delete job: %w", err)
		}

		var stored job.Job
		if err := decode(raw, &stored); err != nil {
			return err
		}
		if stored.Status != expected {
			return taskfair.ErrInvalidState
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, jobIDsKey, jID)
			pipe.ZRem(ctx, queueKey(stored.Queue), jID)
			pipe.ZRem(ctx, leasedKey, jID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("taskfair/redis: delete job: %w", err)
		}
		return nil
	}, key)
}

// ListJobsByStatus returns jobs matching the given status.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("taskfair/redis: list jobs: %w", err)
	}

	result := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, err := s.loadJob(ctx, jID)
		if err != nil {
			if errors.Is(err, taskfair.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		if j.Status != status {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		result = append(result, j)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
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

// ListExpiredLeases returns leased jobs whose deadline is at or before
// now, oldest deadline first.
func (s *Store) ListExpiredLeases(ctx context.Context, queue string, now time.Time, limit int) ([]*job.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, leasedKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("taskfair/redis: list expired: %w", err)
	}

	var result []*job.Job
	for _, jID := range ids {
		if limit > 0 && len(result) == limit {
			break
		}
		j, err := s.loadJob(ctx, jID)
		if err != nil {
			if errors.Is(err, taskfair.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		if !j.Expired(now) {
			continue
		}
		if queue != "" && j.Queue != queue {
			continue
		}
		result = append(result, j)
	}
	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.Queue == "" && opts.Status == "" {
		n, err := s.client.SCard(ctx, jobIDsKey).Result()
		if err != nil {
			return 0, fmt.Errorf("taskfair/redis: count jobs: %w", err)
		}
		return n, nil
	}

	if opts.Queue != "" && opts.Status == job.StatusPending {
		// The pending index answers this without a scan.
		n, err := s.client.ZCard(ctx, queueKey(opts.Queue)).Result()
		if err != nil {
			return 0, fmt.Errorf("taskfair/redis: count jobs: %w", err)
		}
		return n, nil
	}

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("taskfair/redis: count jobs: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, err := s.loadJob(ctx, jID)
		if err != nil {
			if errors.Is(err, taskfair.ErrJobNotFound) {
				continue
			}
			return 0, err
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		count++
	}
	return count, nil
}
