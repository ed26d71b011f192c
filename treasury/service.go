package treasury

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
)

// DefaultAccount is the ledger account the treasury escrows into when no
// other account is configured.
const DefaultAccount taskfair.Actor = "treasury"

// Service provides escrow operations over a receipt store and the ledger.
type Service struct {
	store   Store
	ledger  taskfair.Ledger
	account taskfair.Actor
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithAccount sets the ledger account that holds escrowed stakes.
func WithAccount(a taskfair.Actor) Option {
	return func(s *Service) { s.account = a }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a treasury service.
func NewService(store Store, ledger taskfair.Ledger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		ledger:  ledger,
		account: DefaultAccount,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Account returns the treasury's ledger account.
func (s *Service) Account() taskfair.Actor { return s.account }

// Escrow deposits a job's stake from the submitter into the treasury and
// opens its receipt. Called once, at submission.
func (s *Service) Escrow(ctx context.Context, j *job.Job, now time.Time) error {
	if err := s.ledger.Transfer(ctx, j.Submitter, s.account, j.Stake); err != nil {
		return fmt.Errorf("escrow stake for job %s: %w", j.ID, err)
	}

	r := &Receipt{
		Entity:    taskfair.NewEntityAt(now),
		ID:        id.NewReceiptID(),
		JobID:     j.ID,
		Amount:    j.Stake,
		Depositor: j.Submitter,
	}
	if err := s.store.CreateReceipt(ctx, r); err != nil {
		// Hand the stake back; the deposit must not outlive its receipt.
		if backErr := s.ledger.Transfer(ctx, s.account, j.Submitter, j.Stake); backErr != nil {
			s.logger.Error("escrow rollback failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", backErr.Error()),
			)
		}
		return fmt.Errorf("open receipt for job %s: %w", j.ID, err)
	}
	return nil
}

// Settle pays the full stake to the job's worker, exactly once.
func (s *Service) Settle(ctx context.Context, j *job.Job, now time.Time) error {
	return s.close(ctx, j, OutcomeSettled, j.Worker, now)
}

// Refund returns the full stake to the job's submitter, exactly once.
func (s *Service) Refund(ctx context.Context, j *job.Job, now time.Time) error {
	return s.close(ctx, j, OutcomeRefunded, j.Submitter, now)
}

// close runs the binary settlement: verify the open receipt covers the
// stake, close it (the exactly-once gate), then move the funds. After a
// successful Verify the transfer cannot fail while the reconciliation
// invariant holds, so no partial application is observable.
func (s *Service) close(ctx context.Context, j *job.Job, outcome Outcome, beneficiary taskfair.Actor, now time.Time) error {
	if beneficiary.IsZero() {
		return fmt.Errorf("close escrow for job %s: %w", j.ID, taskfair.ErrInvalidState)
	}

	if err := s.Verify(ctx, j.ID, j.Stake); err != nil {
		return err
	}

	if err := s.store.CloseReceipt(ctx, j.ID, outcome, beneficiary, now); err != nil {
		if errors.Is(err, taskfair.ErrInvalidState) || errors.Is(err, taskfair.ErrReceiptNotFound) {
			return taskfair.ErrInsufficientTreasury
		}
		return fmt.Errorf("close receipt for job %s: %w", j.ID, err)
	}

	if err := s.ledger.Transfer(ctx, s.account, beneficiary, j.Stake); err != nil {
		s.logger.Error("escrow payout failed after receipt close",
			slog.String("job_id", j.ID.String()),
			slog.String("outcome", string(outcome)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("pay out job %s: %w", j.ID, err)
	}
	return nil
}

// Verify checks that the treasury holds an open receipt covering amount
// for the job. It fails with ErrInsufficientTreasury otherwise.
func (s *Service) Verify(ctx context.Context, jobID id.JobID, amount taskfair.Amount) error {
	r, err := s.store.GetReceipt(ctx, jobID)
	if err != nil {
		if errors.Is(err, taskfair.ErrReceiptNotFound) {
			return taskfair.ErrInsufficientTreasury
		}
		return err
	}
	if !r.Open() || r.Amount < amount {
		return taskfair.ErrInsufficientTreasury
	}
	return nil
}

// Receipt returns the escrow receipt for a job.
func (s *Service) Receipt(ctx context.Context, jobID id.JobID) (*Receipt, error) {
	return s.store.GetReceipt(ctx, jobID)
}

// Forget removes a closed receipt when its job record is deleted.
// Removing an open receipt is refused: that would orphan escrowed funds.
func (s *Service) Forget(ctx context.Context, jobID id.JobID) error {
	r, err := s.store.GetReceipt(ctx, jobID)
	if err != nil {
		if errors.Is(err, taskfair.ErrReceiptNotFound) {
			return nil
		}
		return err
	}
	if r.Open() {
		return taskfair.ErrNotDeletable
	}
	return s.store.DeleteReceipt(ctx, jobID)
}

// Escrowed returns the total amount currently held against open receipts.
func (s *Service) Escrowed(ctx context.Context) (taskfair.Amount, error) {
	return s.store.SumOpenReceipts(ctx)
}

// Reconcile checks that the treasury's ledger balance covers every open
// receipt. The surplus (protocol reserve) is returned; a deficit is an
// operational fault reported as ErrInsufficientTreasury.
func (s *Service) Reconcile(ctx context.Context) (taskfair.Amount, error) {
	escrowed, err := s.store.SumOpenReceipts(ctx)
	if err != nil {
		return 0, err
	}
	balance, err := s.ledger.Balance(ctx, s.account)
	if err != nil {
		return 0, err
	}
	if balance < escrowed {
		return 0, fmt.Errorf("treasury balance %d below escrowed %d: %w",
			balance, escrowed, taskfair.ErrInsufficientTreasury)
	}
	return balance - escrowed, nil
}
