package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/treasury"
)

// CreateReceipt persists a new open receipt. A second receipt for the
// same job fails with ErrJobAlreadyExists.
func (s *Store) CreateReceipt(ctx context.Context, r *treasury.Receipt) error {
	jID := r.JobID.String()
	key := receiptKey(jID)

	raw, err := encode(r)
	if err != nil {
		return err
	}

	return s.watch(ctx, func(tx *goredis.Tx) error {
		if _, err := tx.Get(ctx, key).Result(); err == nil {
			return taskfair.ErrJobAlreadyExists
		} else if !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("taskfair/redis: create receipt: %w", err)
		}

		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.SAdd(ctx, receiptJobsKey, jID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("taskfair/redis: create receipt: %w", err)
		}
		return nil
	}, key)
}

// GetReceipt retrieves the receipt for a job.
func (s *Store) GetReceipt(ctx context.Context, jobID id.JobID) (*treasury.Receipt, error) {
	return s.loadReceipt(ctx, jobID.String())
}

func (s *Store) loadReceipt(ctx context.Context, jID string) (*treasury.Receipt, error) {
	raw, err := s.client.Get(ctx, receiptKey(jID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, taskfair.ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskfair/redis: get receipt: %w", err)
	}

	var r treasury.Receipt
	if err := decode(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// CloseReceipt atomically closes an open receipt. A receipt that is
// already closed or missing fails with ErrInvalidState: this is the
// exactly-once settlement gate.
func (s *Store) CloseReceipt(ctx context.Context, jobID id.JobID, outcome treasury.Outcome, beneficiary taskfair.Actor, at time.Time) error {
	key := receiptKey(jobID.String())

	return s.watch(ctx, func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return taskfair.ErrInvalidState
		}
		if err != nil {
			return fmt.Errorf("taskfair/redis: close receipt: %w", err)
		}

		var r treasury.Receipt
		if err := decode(raw, &r); err != nil {
			return err
		}
		if !r.Open() {
			return taskfair.ErrInvalidState
		}

		closedAt := at
		r.Outcome = outcome
		r.Beneficiary = beneficiary
		r.ClosedAt = &closedAt
		r.UpdatedAt = at

		updated, err := encode(&r)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err != nil {
			return fmt.Errorf("taskfair/redis: close receipt: %w", err)
		}
		return nil
	}, key)
}

// DeleteReceipt removes a receipt.
func (s *Store) DeleteReceipt(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := receiptKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("taskfair/redis: delete receipt: %w", err)
	}
	if exists == 0 {
		return taskfair.ErrReceiptNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, receiptJobsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("taskfair/redis: delete receipt: %w", err)
	}
	return nil
}

// SumOpenReceipts returns the total amount currently escrowed.
func (s *Store) SumOpenReceipts(ctx context.Context) (taskfair.Amount, error) {
	ids, err := s.client.SMembers(ctx, receiptJobsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("taskfair/redis: sum open receipts: %w", err)
	}

	var total taskfair.Amount
	for _, jID := range ids {
		r, err := s.loadReceipt(ctx, jID)
		if err != nil {
			if errors.Is(err, taskfair.ErrReceiptNotFound) {
				continue
			}
			return 0, err
		}
		if r.Open() {
			total += r.Amount
		}
	}
	return total, nil
}
