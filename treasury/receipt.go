package treasury

import (
	"context"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
)

// Outcome records how an escrow receipt was closed.
type Outcome string

const (
	// OutcomeSettled means the stake was paid to the worker.
	OutcomeSettled Outcome = "settled"
	// OutcomeRefunded means the stake returned to the submitter.
	OutcomeRefunded Outcome = "refunded"
)

// Receipt tracks one job's escrowed stake from deposit to close.
// At most one receipt exists per job, and it closes at most once.
type Receipt struct {
	taskfair.Entity

	ID        id.ReceiptID    `json:"id"`
	JobID     id.JobID        `json:"job_id"`
	Amount    taskfair.Amount `json:"amount"`
	Depositor taskfair.Actor  `json:"depositor"`

	// Outcome is empty while the receipt is open.
	Outcome Outcome `json:"outcome,omitempty"`
	// Beneficiary is the account the stake moved to at close.
	Beneficiary taskfair.Actor `json:"beneficiary,omitempty"`
	ClosedAt    *time.Time     `json:"closed_at,omitempty"`
}

// Open reports whether the stake is still held in escrow.
func (r *Receipt) Open() bool { return r.Outcome == "" }

// Store defines the persistence contract for escrow receipts.
type Store interface {
	// CreateReceipt persists a new open receipt. A second receipt for
	// the same job fails with taskfair.ErrJobAlreadyExists.
	CreateReceipt(ctx context.Context, r *Receipt) error

	// GetReceipt retrieves the receipt for a job.
	GetReceipt(ctx context.Context, jobID id.JobID) (*Receipt, error)

	// CloseReceipt atomically closes an open receipt. Closing a receipt
	// that is already closed (or missing) fails with
	// taskfair.ErrInvalidState — this is the exactly-once settlement
	// gate.
	CloseReceipt(ctx context.Context, jobID id.JobID, outcome Outcome, beneficiary taskfair.Actor, at time.Time) error

	// DeleteReceipt removes a closed receipt when its job is deleted.
	DeleteReceipt(ctx context.Context, jobID id.JobID) error

	// SumOpenReceipts returns the total amount currently escrowed.
	SumOpenReceipts(ctx context.Context) (taskfair.Amount, error)
}
