package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobSubmittedEntry struct {
	name string
	hook JobSubmitted
}

type jobLeasedEntry struct {
	name string
	hook JobLeased
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobVerifiedEntry struct {
	name string
	hook JobVerified
}

type jobRejectedEntry struct {
	name string
	hook JobRejected
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobDeadLetteredEntry struct {
	name string
	hook JobDeadLettered
}

type jobExpiredReleasedEntry struct {
	name string
	hook JobExpiredReleased
}

type jobRefundedEntry struct {
	name string
	hook JobRefunded
}

type jobDeletedEntry struct {
	name string
	hook JobDeleted
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle
// transitions to them. It type-caches extensions at registration time so
// emit calls iterate only over extensions that implement the relevant
// hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobSubmitted       []jobSubmittedEntry
	jobLeased          []jobLeasedEntry
	jobCompleted       []jobCompletedEntry
	jobVerified        []jobVerifiedEntry
	jobRejected        []jobRejectedEntry
	jobRetrying        []jobRetryingEntry
	jobDeadLettered    []jobDeadLetteredEntry
	jobExpiredReleased []jobExpiredReleasedEntry
	jobRefunded        []jobRefundedEntry
	jobDeleted         []jobDeletedEntry
	shutdown           []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobSubmitted); ok {
		r.jobSubmitted = append(r.jobSubmitted, jobSubmittedEntry{name, h})
	}
	if h, ok := e.(JobLeased); ok {
		r.jobLeased = append(r.jobLeased, jobLeasedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobVerified); ok {
		r.jobVerified = append(r.jobVerified, jobVerifiedEntry{name, h})
	}
	if h, ok := e.(JobRejected); ok {
		r.jobRejected = append(r.jobRejected, jobRejectedEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobDeadLettered); ok {
		r.jobDeadLettered = append(r.jobDeadLettered, jobDeadLetteredEntry{name, h})
	}
	if h, ok := e.(JobExpiredReleased); ok {
		r.jobExpiredReleased = append(r.jobExpiredReleased, jobExpiredReleasedEntry{name, h})
	}
	if h, ok := e.(JobRefunded); ok {
		r.jobRefunded = append(r.jobRefunded, jobRefundedEntry{name, h})
	}
	if h, ok := e.(JobDeleted); ok {
		r.jobDeleted = append(r.jobDeleted, jobDeletedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Emitters
// ──────────────────────────────────────────────────

// EmitJobSubmitted notifies all extensions that implement JobSubmitted.
func (r *Registry) EmitJobSubmitted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobSubmitted {
		if err := e.hook.OnJobSubmitted(ctx, j); err != nil {
			r.logHookError("OnJobSubmitted", e.name, err)
		}
	}
}

// EmitJobLeased notifies all extensions that implement JobLeased.
func (r *Registry) EmitJobLeased(ctx context.Context, j *job.Job) {
	for _, e := range r.jobLeased {
		if err := e.hook.OnJobLeased(ctx, j); err != nil {
			r.logHookError("OnJobLeased", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, held time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, held); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobVerified notifies all extensions that implement JobVerified.
func (r *Registry) EmitJobVerified(ctx context.Context, j *job.Job, paid taskfair.Amount) {
	for _, e := range r.jobVerified {
		if err := e.hook.OnJobVerified(ctx, j, paid); err != nil {
			r.logHookError("OnJobVerified", e.name, err)
		}
	}
}

// EmitJobRejected notifies all extensions that implement JobRejected.
func (r *Registry) EmitJobRejected(ctx context.Context, j *job.Job, reason string) {
	for _, e := range r.jobRejected {
		if err := e.hook.OnJobRejected(ctx, j, reason); err != nil {
			r.logHookError("OnJobRejected", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobDeadLettered notifies all extensions that implement JobDeadLettered.
func (r *Registry) EmitJobDeadLettered(ctx context.Context, j *job.Job, refunded taskfair.Amount) {
	for _, e := range r.jobDeadLettered {
		if err := e.hook.OnJobDeadLettered(ctx, j, refunded); err != nil {
			r.logHookError("OnJobDeadLettered", e.name, err)
		}
	}
}

// EmitJobExpiredReleased notifies all extensions that implement
// JobExpiredReleased.
func (r *Registry) EmitJobExpiredReleased(ctx context.Context, j *job.Job, releasedBy taskfair.Actor) {
	for _, e := range r.jobExpiredReleased {
		if err := e.hook.OnJobExpiredReleased(ctx, j, releasedBy); err != nil {
			r.logHookError("OnJobExpiredReleased", e.name, err)
		}
	}
}

// EmitJobRefunded notifies all extensions that implement JobRefunded.
func (r *Registry) EmitJobRefunded(ctx context.Context, j *job.Job, refunded taskfair.Amount, reason string) {
	for _, e := range r.jobRefunded {
		if err := e.hook.OnJobRefunded(ctx, j, refunded, reason); err != nil {
			r.logHookError("OnJobRefunded", e.name, err)
		}
	}
}

// EmitJobDeleted notifies all extensions that implement JobDeleted.
func (r *Registry) EmitJobDeleted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobDeleted {
		if err := e.hook.OnJobDeleted(ctx, j); err != nil {
			r.logHookError("OnJobDeleted", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a hook failure. Hook errors never interrupt the
// lifecycle transition that triggered them.
func (r *Registry) logHookError(hook, extension string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extension),
		slog.String("error", err.Error()),
	)
}
