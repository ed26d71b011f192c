package job

import (
	"context"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// Guard pins the fields a conditional swap must still find in the
// stored record: the status and, for leased or completed work, the
// lease identity. It is captured from the read that justified the
// transition, so a lease that was released and re-claimed between the
// read and the write cannot be overwritten by the stale holder even
// though the status matches again.
type Guard struct {
	Status   Status
	Worker   taskfair.Actor
	LeasedAt *time.Time
}

// Guard snapshots the job's swap-guard fields.
func (j *Job) Guard() Guard {
	return Guard{Status: j.Status, Worker: j.Worker, LeasedAt: j.LeasedAt}
}

// Matches reports whether the stored job still satisfies the guard.
func (g Guard) Matches(stored *Job) bool {
	if stored.Status != g.Status || stored.Worker != g.Worker {
		return false
	}
	if (stored.LeasedAt == nil) != (g.LeasedAt == nil) {
		return false
	}
	return g.LeasedAt == nil || stored.LeasedAt.Equal(*g.LeasedAt)
}

// Store defines the persistence contract for jobs and the per-queue index
// of pending work.
//
// Implementations must keep the queue index consistent with job status
// inside every commit: a job appears in its queue's pending index iff its
// status is pending. Every conditional write is a single atomic step
// against the job's current state; a mismatch surfaces
// taskfair.ErrInvalidState and leaves the record untouched.
type Store interface {
	// CreateJob persists a new pending job and indexes it under its
	// queue. A duplicate ID fails with taskfair.ErrJobAlreadyExists.
	CreateJob(ctx context.Context, j *Job) error

	// LeaseJobs atomically claims up to limit jobs from the queue for
	// the given worker, each with deadline now+visibility.
	//
	// The call is idempotent for a retrying worker: it first returns the
	// worker's own still-live leases in the queue unchanged (deadlines
	// untouched), then tops up from pending jobs ordered by stake
	// descending, then arrival, then ID. Selection and the transition to
	// leased are one atomic step per job, so two concurrent calls never
	// both claim the same pending job.
	LeaseJobs(ctx context.Context, queue string, worker taskfair.Actor, limit int, now time.Time, visibility time.Duration) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// SwapJob persists j only if the stored job still matches the guard
	// captured at read time. The queue index is updated in the same
	// commit.
	SwapJob(ctx context.Context, j *Job, expected Guard) error

	// DeleteJob removes the job only if its stored status still equals
	// expected, deindexing it in the same commit.
	DeleteJob(ctx context.Context, jobID id.JobID, expected Status) error

	// ListJobsByStatus returns jobs matching the given status.
	ListJobsByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Job, error)

	// ListExpiredLeases returns leased jobs whose deadline is at or
	// before now, for external expiry drivers. Empty queue means all
	// queues.
	ListExpiredLeases(ctx context.Context, queue string, now time.Time, limit int) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
