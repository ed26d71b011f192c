package engine

import (
	"context"

	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/queue"
)

// GetJob retrieves a job by ID.
func (e *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return e.jobs.GetJob(ctx, jobID)
}

// IsExpired reports whether the job holds a stale lease right now. The
// predicate is derived from the stored deadline, never stored itself.
func (e *Engine) IsExpired(ctx context.Context, jobID id.JobID) (bool, error) {
	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return j.Expired(e.clock()), nil
}

// QueueStats computes the derived per-queue summary on demand.
func (e *Engine) QueueStats(ctx context.Context, queueName string) (*queue.Stats, error) {
	if err := queue.ValidateName(queueName, e.config.MaxQueueNameLen); err != nil {
		return nil, err
	}
	total, err := e.jobs.CountJobs(ctx, job.CountOpts{Queue: queueName})
	if err != nil {
		return nil, err
	}
	pending, err := e.jobs.CountJobs(ctx, job.CountOpts{Queue: queueName, Status: job.StatusPending})
	if err != nil {
		return nil, err
	}
	return &queue.Stats{Total: total, Pending: pending}, nil
}

// ExpiredLeases lists leased jobs past their deadline, for external
// expiry drivers. Empty queue means all queues.
func (e *Engine) ExpiredLeases(ctx context.Context, queueName string, limit int) ([]*job.Job, error) {
	return e.jobs.ListExpiredLeases(ctx, queueName, e.clock(), limit)
}
