package event

import (
	"context"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/ext"
	"github.com/taskfair/taskfair/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*Extension)(nil)
	_ ext.JobSubmitted       = (*Extension)(nil)
	_ ext.JobLeased          = (*Extension)(nil)
	_ ext.JobCompleted       = (*Extension)(nil)
	_ ext.JobVerified        = (*Extension)(nil)
	_ ext.JobRejected        = (*Extension)(nil)
	_ ext.JobRetrying        = (*Extension)(nil)
	_ ext.JobDeadLettered    = (*Extension)(nil)
	_ ext.JobExpiredReleased = (*Extension)(nil)
	_ ext.JobRefunded        = (*Extension)(nil)
	_ ext.JobDeleted         = (*Extension)(nil)
)

// Extension turns lifecycle hooks into published events — one per
// transition, carrying the job, queue, acting identity, and the moved
// amount for financial transitions. Register it with the engine to make
// the event stream the push channel for external observers.
type Extension struct {
	bus *Bus
}

// NewExtension creates the event-publishing extension over a bus.
func NewExtension(bus *Bus) *Extension {
	return &Extension{bus: bus}
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "event-stream" }

func (e *Extension) publish(ctx context.Context, kind Kind, j *job.Job, actor taskfair.Actor, amount taskfair.Amount) error {
	return e.bus.Publish(ctx, &Event{
		Kind:   kind,
		JobID:  j.ID,
		Queue:  j.Queue,
		Actor:  actor,
		Amount: amount,
	})
}

// OnJobSubmitted implements ext.JobSubmitted.
func (e *Extension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	return e.publish(ctx, KindSubmitted, j, j.Submitter, j.Stake)
}

// OnJobLeased implements ext.JobLeased.
func (e *Extension) OnJobLeased(ctx context.Context, j *job.Job) error {
	return e.publish(ctx, KindLeased, j, j.Worker, 0)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	return e.publish(ctx, KindCompleted, j, j.Worker, 0)
}

// OnJobVerified implements ext.JobVerified.
func (e *Extension) OnJobVerified(ctx context.Context, j *job.Job, paid taskfair.Amount) error {
	return e.publish(ctx, KindVerified, j, j.Submitter, paid)
}

// OnJobRejected implements ext.JobRejected.
func (e *Extension) OnJobRejected(ctx context.Context, j *job.Job, _ string) error {
	return e.publish(ctx, KindRejected, j, j.Submitter, 0)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, _ int) error {
	return e.publish(ctx, KindRetried, j, j.Worker, 0)
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (e *Extension) OnJobDeadLettered(ctx context.Context, j *job.Job, refunded taskfair.Amount) error {
	return e.publish(ctx, KindDeadLettered, j, j.Submitter, refunded)
}

// OnJobExpiredReleased implements ext.JobExpiredReleased.
func (e *Extension) OnJobExpiredReleased(ctx context.Context, j *job.Job, releasedBy taskfair.Actor) error {
	return e.publish(ctx, KindExpiredRelease, j, releasedBy, 0)
}

// OnJobRefunded implements ext.JobRefunded.
func (e *Extension) OnJobRefunded(ctx context.Context, j *job.Job, refunded taskfair.Amount, _ string) error {
	return e.publish(ctx, KindRefunded, j, j.Submitter, refunded)
}

// OnJobDeleted implements ext.JobDeleted.
func (e *Extension) OnJobDeleted(ctx context.Context, j *job.Job) error {
	return e.publish(ctx, KindDeleted, j, j.Submitter, 0)
}
