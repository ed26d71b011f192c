package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/treasury"
)

// Service manages dead letter entries. Pushing an entry only records the
// snapshot; the refund itself is settled by the caller through the
// treasury before the push, so a failed push never double-moves money.
type Service struct {
	store    Store
	jobs     job.Store
	treasury *treasury.Service
	logger   *slog.Logger
}

// NewService creates a DLQ service.
func NewService(store Store, jobs job.Store, t *treasury.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, jobs: jobs, treasury: t, logger: logger}
}

// Push records a dead-lettered job. The job must already be refunded;
// receiptID names the closed escrow receipt.
func (s *Service) Push(ctx context.Context, j *job.Job, cause string, receiptID id.ReceiptID, now time.Time) (*Entry, error) {
	entry := &Entry{
		ID:            id.NewDLQID(),
		JobID:         j.ID,
		Queue:         j.Queue,
		Payload:       j.Payload,
		Stake:         j.Stake,
		Submitter:     j.Submitter,
		Cause:         cause,
		Attempts:      j.Attempts,
		RefundReceipt: receiptID,
		FailedAt:      now,
		CreatedAt:     now,
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, fmt.Errorf("push dlq entry: %w", err)
	}

	s.logger.Info("job dead lettered",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
		slog.Int("attempts", j.Attempts),
		slog.String("cause", cause),
	)
	return entry, nil
}

// Resubmit creates a fresh job from a dead letter entry. The new job
// gets a new ID, a zeroed attempt counter, and a fresh escrow deposit
// charged to the original submitter. The entry stays in the DLQ, marked
// with the resubmission time.
func (s *Service) Resubmit(ctx context.Context, entryID id.DLQID, now time.Time) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ResubmittedAt != nil {
		return nil, fmt.Errorf("%w: entry %s already resubmitted", taskfair.ErrInvalidState, entryID)
	}

	j := &job.Job{
		Entity:            taskfair.NewEntityAt(now),
		ID:                id.NewJobID(),
		Queue:             entry.Queue,
		Payload:           entry.Payload,
		Stake:             entry.Stake,
		Submitter:         entry.Submitter,
		Status:            job.StatusPending,
		VisibilityTimeout: job.DefaultVisibilityTimeout,
	}

	if err := s.treasury.Escrow(ctx, j, now); err != nil {
		return nil, fmt.Errorf("escrow resubmitted job: %w", err)
	}
	if err := s.jobs.CreateJob(ctx, j); err != nil {
		// Unwind the deposit so the submitter is not charged for a job
		// that never existed.
		if rerr := s.treasury.Refund(ctx, j, now); rerr != nil {
			s.logger.Error("failed to unwind escrow after create failure",
				slog.String("job_id", j.ID.String()),
				slog.String("error", rerr.Error()),
			)
		}
		return nil, fmt.Errorf("create resubmitted job: %w", err)
	}
	if err := s.store.MarkResubmitted(ctx, entryID); err != nil {
		s.logger.Warn("failed to mark dlq entry resubmitted",
			slog.String("entry_id", entryID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("dlq entry resubmitted",
		slog.String("entry_id", entryID.String()),
		slog.String("old_job_id", entry.JobID.String()),
		slog.String("new_job_id", j.ID.String()),
	)
	return j, nil
}

// List returns DLQ entries matching opts.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Get retrieves a DLQ entry by ID.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// Purge removes entries that failed before the given time.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.store.PurgeDLQ(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged dlq entries", slog.Int64("count", n))
	}
	return n, nil
}
