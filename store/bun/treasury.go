package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/treasury"
)

// CreateReceipt persists a new open receipt. The job_id primary key
// enforces at most one receipt per job.
func (s *Store) CreateReceipt(ctx context.Context, r *treasury.Receipt) error {
	m := toReceiptModel(r)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return taskfair.ErrJobAlreadyExists
		}
		return fmt.Errorf("taskfair/bun: create receipt: %w", err)
	}
	return nil
}

// GetReceipt retrieves the receipt for a job.
func (s *Store) GetReceipt(ctx context.Context, jobID id.JobID) (*treasury.Receipt, error) {
	m := new(receiptModel)
	err := s.db.NewSelect().Model(m).
		Where("job_id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, taskfair.ErrReceiptNotFound
		}
		return nil, fmt.Errorf("taskfair/bun: get receipt: %w", err)
	}
	return fromReceiptModel(m)
}

// CloseReceipt atomically closes an open receipt. The guard on an empty
// outcome makes the close exactly-once: a second close, or a close of a
// missing receipt, touches zero rows and fails with ErrInvalidState.
func (s *Store) CloseReceipt(ctx context.Context, jobID id.JobID, outcome treasury.Outcome, beneficiary taskfair.Actor, at time.Time) error {
	res, err := s.db.NewUpdate().
		TableExpr("taskfair_receipts").
		Set("outcome = ?", string(outcome)).
		Set("beneficiary = ?", string(beneficiary)).
		Set("closed_at = ?", at).
		Set("updated_at = ?", at).
		Where("job_id = ?", jobID.String()).
		Where("outcome = ''").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskfair/bun: close receipt: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return taskfair.ErrInvalidState
	}
	return nil
}

// DeleteReceipt removes a receipt.
func (s *Store) DeleteReceipt(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.NewDelete().
		TableExpr("taskfair_receipts").
		Where("job_id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskfair/bun: delete receipt: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return taskfair.ErrReceiptNotFound
	}
	return nil
}

// SumOpenReceipts returns the total amount currently escrowed.
func (s *Store) SumOpenReceipts(ctx context.Context) (taskfair.Amount, error) {
	var total int64
	err := s.db.NewSelect().
		TableExpr("taskfair_receipts").
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("outcome = ''").
		Scan(ctx, &total)
	if err != nil {
		return 0, fmt.Errorf("taskfair/bun: sum open receipts: %w", err)
	}
	return taskfair.Amount(total), nil
}
