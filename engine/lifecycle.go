package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/queue"
)

// Submit creates a pending job and escrows its stake. The deposit and
// the record are created together: if the record cannot be written the
// deposit is returned.
func (e *Engine) Submit(ctx context.Context, submitter taskfair.Actor, queueName string, payload []byte, stake taskfair.Amount, visibility time.Duration) (*job.Job, error) {
	if submitter.IsZero() {
		return nil, fmt.Errorf("%w: submitter required", taskfair.ErrInvalidArgument)
	}
	if err := queue.ValidateName(queueName, e.config.MaxQueueNameLen); err != nil {
		return nil, err
	}
	if len(payload) > e.config.MaxPayloadSize {
		return nil, taskfair.ErrInvalidPayload
	}
	if !stake.Valid() {
		return nil, taskfair.ErrInvalidStake
	}
	if visibility == 0 {
		visibility = job.DefaultVisibilityTimeout
	}
	if !e.config.ValidTimeout(visibility) {
		return nil, taskfair.ErrInvalidTimeout
	}

	now := e.clock()
	j := &job.Job{
		Entity:            taskfair.NewEntityAt(now),
		ID:                id.NewJobID(),
		Queue:             queueName,
		Payload:           payload,
		Stake:             stake,
		Submitter:         submitter,
		Status:            job.StatusPending,
		VisibilityTimeout: visibility,
	}

	if err := e.treasury.Escrow(ctx, j, now); err != nil {
		return nil, err
	}
	if err := e.jobs.CreateJob(ctx, j); err != nil {
		// Return the deposit; a stake must never outlive its job record.
		if rerr := e.treasury.Refund(ctx, j, now); rerr != nil {
			e.logger.Error("failed to unwind escrow after create failure",
				slog.String("job_id", j.ID.String()),
				slog.String("error", rerr.Error()),
			)
		}
		return nil, err
	}

	e.extensions.EmitJobSubmitted(ctx, j)
	e.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
		slog.Int64("stake", int64(j.Stake)),
	)
	return j, nil
}

// Lease claims up to limit jobs from the queue for the worker. Only a
// worker whose subscription covers the queue may lease from it; a zero
// or oversized limit falls back to the subscription's batch size. The
// call is idempotent: a retrying worker gets its own still-live leases
// back first, with deadlines untouched, then new pending jobs ordered
// by stake descending, arrival, ID.
func (e *Engine) Lease(ctx context.Context, queueName string, workerActor taskfair.Actor, limit int) ([]*job.Job, error) {
	if workerActor.IsZero() {
		return nil, fmt.Errorf("%w: worker required", taskfair.ErrInvalidArgument)
	}
	if err := queue.ValidateName(queueName, e.config.MaxQueueNameLen); err != nil {
		return nil, err
	}

	sub, err := e.workers.GetSubscription(ctx, workerActor)
	if err != nil {
		if errors.Is(err, taskfair.ErrSubscriptionNotFound) {
			return nil, fmt.Errorf("lease from %s without subscription: %w", queueName, taskfair.ErrUnauthorized)
		}
		return nil, err
	}
	if !sub.Covers(queueName) {
		return nil, fmt.Errorf("lease from %s not covered by subscription: %w", queueName, taskfair.ErrUnauthorized)
	}
	if limit <= 0 || limit > sub.BatchSize {
		limit = sub.BatchSize
	}
	if !e.config.ValidBatchSize(limit) {
		return nil, taskfair.ErrInvalidBatchSize
	}

	now := e.clock()

	// The subscription can override the per-job visibility timeout and
	// gets its liveness marker advanced on every poll.
	visibility := sub.VisibilityTimeout
	if terr := e.workers.TouchSubscription(ctx, workerActor, now); terr != nil {
		e.logger.Debug("failed to touch subscription",
			slog.String("actor", string(workerActor)),
			slog.String("error", terr.Error()),
		)
	}

	// Reserve live-lease slots up front; unused ones are returned after
	// the store reports how many leases are actually new.
	granted := 0
	if e.queueManager != nil {
		for granted < limit && e.queueManager.Acquire(queueName) {
			granted++
		}
		if granted == 0 {
			return nil, nil
		}
		limit = granted
	}

	leased, err := e.jobs.LeaseJobs(ctx, queueName, workerActor, limit, now, visibility)
	if err != nil {
		for i := 0; i < granted; i++ {
			e.queueManager.Release(queueName)
		}
		return nil, err
	}

	newly := 0
	for _, j := range leased {
		if j.LeasedAt != nil && j.LeasedAt.Equal(now) {
			newly++
			e.extensions.EmitJobLeased(ctx, j)
		}
	}
	for i := newly; i < granted; i++ {
		e.queueManager.Release(queueName)
	}

	if newly > 0 {
		e.logger.Info("jobs leased",
			slog.String("queue", queueName),
			slog.String("worker", string(workerActor)),
			slog.Int("new", newly),
			slog.Int("total", len(leased)),
		)
	}
	return leased, nil
}

// Complete lands the worker's result. Only the live lease holder may
// call it; a lease past its deadline is refused with ErrLeaseExpired.
func (e *Engine) Complete(ctx context.Context, jobID id.JobID, workerActor taskfair.Actor, result []byte) (*job.Job, error) {
	if workerActor.IsZero() {
		return nil, fmt.Errorf("%w: worker required", taskfair.ErrInvalidArgument)
	}
	if len(result) > e.config.MaxPayloadSize {
		return nil, taskfair.ErrInvalidPayload
	}

	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusLeased {
		return nil, fmt.Errorf("complete job %s in status %s: %w", jobID, j.Status, taskfair.ErrInvalidState)
	}
	if j.Worker != workerActor {
		return nil, fmt.Errorf("complete job %s: %w", jobID, taskfair.ErrUnauthorized)
	}

	now := e.clock()
	if j.Expired(now) {
		return nil, taskfair.ErrLeaseExpired
	}

	guard := j.Guard()
	held := now.Sub(*j.LeasedAt)
	j.Status = job.StatusCompleted
	j.Result = result
	j.CompletedAt = &now
	j.UpdatedAt = now

	if err := e.jobs.SwapJob(ctx, j, guard); err != nil {
		return nil, err
	}
	e.releaseSlot(j.Queue)

	e.extensions.EmitJobCompleted(ctx, j, held)
	return j, nil
}

// VerifyAndRelease accepts a completed result and settles the stake to
// the worker. Only the submitter may call it. The receipt close is the
// exactly-once gate: a second settlement attempt cannot move money.
func (e *Engine) VerifyAndRelease(ctx context.Context, jobID id.JobID, caller taskfair.Actor) (*job.Job, error) {
	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Submitter != caller {
		return nil, fmt.Errorf("verify job %s: %w", jobID, taskfair.ErrUnauthorized)
	}
	if j.Status != job.StatusCompleted {
		return nil, fmt.Errorf("verify job %s in status %s: %w", jobID, j.Status, taskfair.ErrInvalidState)
	}

	now := e.clock()
	if err := e.treasury.Settle(ctx, j, now); err != nil {
		return nil, err
	}

	guard := j.Guard()
	payee := j.Worker
	j.Status = job.StatusVerified
	j.Worker = ""
	j.UpdatedAt = now
	if err := e.jobs.SwapJob(ctx, j, guard); err != nil {
		// The stake already settled; surface the inconsistency loudly.
		e.logger.Error("job settled but status swap failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	// Hooks still see who was paid even though the terminal record
	// drops the worker.
	evt := *j
	evt.Worker = payee
	e.extensions.EmitJobVerified(ctx, &evt, j.Stake)
	e.logger.Info("job verified",
		slog.String("job_id", jobID.String()),
		slog.String("worker", string(payee)),
		slog.Int64("paid", int64(j.Stake)),
	)
	return j, nil
}

// Reject sends a completed result back: the job reopens for leasing and
// the stake stays escrowed. Only the submitter may call it. When
// rejections count as attempts and the budget is exhausted, the job
// dead-letters instead.
func (e *Engine) Reject(ctx context.Context, jobID id.JobID, caller taskfair.Actor, reason string) (*job.Job, error) {
	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Submitter != caller {
		return nil, fmt.Errorf("reject job %s: %w", jobID, taskfair.ErrUnauthorized)
	}
	if j.Status != job.StatusCompleted {
		return nil, fmt.Errorf("reject job %s in status %s: %w", jobID, j.Status, taskfair.ErrInvalidState)
	}

	guard := j.Guard()
	if e.config.RejectionCountsAsAttempt {
		j.Attempts++
		if j.Attempts >= e.config.MaxAttempts {
			return e.deadLetter(ctx, j, "rejected: "+reason, guard)
		}
	}

	now := e.clock()
	j.ClearLease()
	j.LastError = reason
	j.Status = job.StatusPending
	j.UpdatedAt = now
	if err := e.jobs.SwapJob(ctx, j, guard); err != nil {
		return nil, err
	}

	e.extensions.EmitJobRejected(ctx, j, reason)
	return j, nil
}

// Fail reports a failed execution by the live lease holder. The attempt
// counter always advances; with budget left the job reopens, otherwise
// it dead-letters and the stake refunds.
func (e *Engine) Fail(ctx context.Context, jobID id.JobID, workerActor taskfair.Actor, reason string) (*job.Job, error) {
	if workerActor.IsZero() {
		return nil, fmt.Errorf("%w: worker required", taskfair.ErrInvalidArgument)
	}

	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusLeased {
		return nil, fmt.Errorf("fail job %s in status %s: %w", jobID, j.Status, taskfair.ErrInvalidState)
	}
	if j.Worker != workerActor {
		return nil, fmt.Errorf("fail job %s: %w", jobID, taskfair.ErrUnauthorized)
	}

	now := e.clock()
	if j.Expired(now) {
		return nil, taskfair.ErrLeaseExpired
	}

	guard := j.Guard()
	j.Attempts++
	j.LastError = reason

	if j.Attempts >= e.config.MaxAttempts {
		return e.deadLetter(ctx, j, reason, guard)
	}

	j.ClearLease()
	j.Status = job.StatusPending
	j.UpdatedAt = now
	if err := e.jobs.SwapJob(ctx, j, guard); err != nil {
		return nil, err
	}
	e.releaseSlot(j.Queue)

	e.extensions.EmitJobRetrying(ctx, j, j.Attempts)
	e.logger.Info("job failed, retrying",
		slog.String("job_id", jobID.String()),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", e.config.MaxAttempts),
		slog.String("error", reason),
	)
	return j, nil
}

// ReleaseExpired forces a stale lease open again. Anyone may call it;
// expiry is a derived predicate, so the caller only supplies the
// identity recorded on the event. A lease that is not past its deadline
// is refused with ErrInvalidState.
func (e *Engine) ReleaseExpired(ctx context.Context, jobID id.JobID, releasedBy taskfair.Actor) (*job.Job, error) {
	if releasedBy.IsZero() {
		return nil, fmt.Errorf("%w: releasing actor required", taskfair.ErrInvalidArgument)
	}

	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	if !j.Expired(now) {
		return nil, fmt.Errorf("release job %s in status %s: %w", jobID, j.Status, taskfair.ErrInvalidState)
	}

	guard := j.Guard()
	if e.config.ExpiryCountsAsAttempt {
		j.Attempts++
		if j.Attempts >= e.config.MaxAttempts {
			return e.deadLetter(ctx, j, "lease expired", guard)
		}
	}

	j.ClearLease()
	j.Status = job.StatusPending
	j.UpdatedAt = now
	if err := e.jobs.SwapJob(ctx, j, guard); err != nil {
		return nil, err
	}
	e.releaseSlot(j.Queue)

	e.extensions.EmitJobExpiredReleased(ctx, j, releasedBy)
	e.logger.Info("expired lease released",
		slog.String("job_id", jobID.String()),
		slog.String("released_by", string(releasedBy)),
	)
	return j, nil
}

// Delete removes a terminal job's record. Only the submitter or an
// admin may call it; a job whose stake is unresolved is not deletable.
func (e *Engine) Delete(ctx context.Context, jobID id.JobID, caller taskfair.Actor) error {
	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Submitter != caller && !e.config.IsAdmin(caller) {
		return fmt.Errorf("delete job %s: %w", jobID, taskfair.ErrUnauthorized)
	}
	if !j.Status.Terminal() {
		return fmt.Errorf("delete job %s in status %s: %w", jobID, j.Status, taskfair.ErrNotDeletable)
	}

	// Drop the closed receipt first; an open one refuses the delete.
	if err := e.treasury.Forget(ctx, jobID); err != nil {
		return err
	}
	if err := e.jobs.DeleteJob(ctx, jobID, j.Status); err != nil {
		return err
	}

	e.extensions.EmitJobDeleted(ctx, j)
	return nil
}

// AdminRefund force-refunds a non-terminal job and dead-letters it.
// Restricted to configured admins.
func (e *Engine) AdminRefund(ctx context.Context, jobID id.JobID, admin taskfair.Actor, reason string) (*job.Job, error) {
	if !e.config.IsAdmin(admin) {
		return nil, fmt.Errorf("admin refund job %s: %w", jobID, taskfair.ErrUnauthorized)
	}

	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return nil, fmt.Errorf("admin refund job %s in status %s: %w", jobID, j.Status, taskfair.ErrInvalidState)
	}

	expected := j.Guard()
	wasLeased := j.Status == job.StatusLeased
	now := e.clock()

	if err := e.treasury.Refund(ctx, j, now); err != nil {
		return nil, err
	}
	receipt, err := e.treasury.Receipt(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := e.dlq.Push(ctx, j, "admin refund: "+reason, receipt.ID, now); err != nil {
		return nil, err
	}

	holder := j.Worker
	j.Status = job.StatusDeadLetter
	j.Worker = ""
	j.LastError = reason
	j.UpdatedAt = now
	if err := e.jobs.SwapJob(ctx, j, expected); err != nil {
		// The refund already landed; the receipt gate prevents a second
		// one, but the record is now inconsistent.
		e.logger.Error("job refunded but status swap failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if wasLeased {
		e.releaseSlot(j.Queue)
	}

	evt := *j
	evt.Worker = holder
	e.extensions.EmitJobRefunded(ctx, &evt, j.Stake, reason)
	e.logger.Info("job force-refunded",
		slog.String("job_id", jobID.String()),
		slog.String("admin", string(admin)),
		slog.String("reason", reason),
	)
	return j, nil
}

// deadLetter refunds the stake and moves the job to its terminal
// dead-letter state. The receipt close inside Refund is the
// exactly-once gate for the money.
func (e *Engine) deadLetter(ctx context.Context, j *job.Job, cause string, expected job.Guard) (*job.Job, error) {
	now := e.clock()
	wasLeased := expected.Status == job.StatusLeased

	if err := e.treasury.Refund(ctx, j, now); err != nil {
		return nil, err
	}
	receipt, err := e.treasury.Receipt(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	if _, err := e.dlq.Push(ctx, j, cause, receipt.ID, now); err != nil {
		return nil, err
	}

	holder := j.Worker
	j.Status = job.StatusDeadLetter
	j.Worker = ""
	j.LastError = cause
	j.UpdatedAt = now
	if err := e.jobs.SwapJob(ctx, j, expected); err != nil {
		e.logger.Error("job refunded but status swap failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if wasLeased {
		e.releaseSlot(j.Queue)
	}

	evt := *j
	evt.Worker = holder
	e.extensions.EmitJobDeadLettered(ctx, &evt, j.Stake)
	return j, nil
}
