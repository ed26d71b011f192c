// Package ext defines the extension system for taskfair.
// Extensions are notified of lifecycle transitions (job submitted, leased,
// verified, dead-lettered, etc.) and can react to them — publishing
// events, recording metrics, auditing.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the transitions they care about.
package ext

import (
	"context"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks, one per transition
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job is created and its stake escrowed.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobLeased is called for each job a worker successfully claims.
type JobLeased interface {
	OnJobLeased(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a lease holder lands a result.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, held time.Duration) error
}

// JobVerified is called after the submitter accepts a result and the
// stake settles to the worker.
type JobVerified interface {
	OnJobVerified(ctx context.Context, j *job.Job, paid taskfair.Amount) error
}

// JobRejected is called when the submitter rejects a completed result
// and the job reopens.
type JobRejected interface {
	OnJobRejected(ctx context.Context, j *job.Job, reason string) error
}

// JobRetrying is called when a failed job reopens with retry budget left.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int) error
}

// JobDeadLettered is called when a job exhausts its retry budget and the
// stake is refunded.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, j *job.Job, refunded taskfair.Amount) error
}

// JobExpiredReleased is called when a stale lease is forcibly released.
type JobExpiredReleased interface {
	OnJobExpiredReleased(ctx context.Context, j *job.Job, releasedBy taskfair.Actor) error
}

// JobRefunded is called when the privileged admin path refunds a job.
type JobRefunded interface {
	OnJobRefunded(ctx context.Context, j *job.Job, refunded taskfair.Amount, reason string) error
}

// JobDeleted is called after a terminal job's record is removed.
type JobDeleted interface {
	OnJobDeleted(ctx context.Context, j *job.Job) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
