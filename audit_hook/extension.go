package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/ext"
	"github.com/taskfair/taskfair/job"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome values for audit events. Lifecycle hooks fire only after a
// transition commits, so every event carries OutcomeSuccess today; the
// field exists so recorders share a schema with failure-capable sources.
const (
	OutcomeSuccess = "success"
)

// AuditEvent is a single audit trail entry describing one lifecycle
// transition.
type AuditEvent struct {
	// Action is one of the Action* constants.
	Action string
	// Category is CategoryLifecycle or CategoryMoney.
	Category string
	// Resource is the resource type, always ResourceJob.
	Resource string
	// ResourceID is the job's identifier.
	ResourceID string
	// Actor is the identity that drove the transition, when known.
	Actor string
	// Severity is one of the Severity* constants.
	Severity string
	// Outcome is one of the Outcome* constants.
	Outcome string
	// Reason carries the caller-supplied reason for rejections, failures
	// and forced refunds.
	Reason string
	// Metadata holds transition-specific details (queue, stake, worker,
	// amounts moved).
	Metadata map[string]any
	// OccurredAt is when the extension observed the transition.
	OccurredAt time.Time
}

// Recorder persists audit events. Implementations are expected to be
// safe for concurrent use; the extension never retries a failed record.
type Recorder interface {
	Record(ctx context.Context, ev AuditEvent) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, ev AuditEvent) error

// Record calls f(ctx, ev).
func (f RecorderFunc) Record(ctx context.Context, ev AuditEvent) error {
	return f(ctx, ev)
}

// Extension records an audit trail entry for every lifecycle transition.
// Recorder failures are logged and swallowed so auditing never blocks a
// settlement.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool
	logger   *slog.Logger
}

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

// New creates an audit extension that writes events to the recorder.
// All actions are enabled unless WithActions narrows the set.
func New(recorder Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: recorder,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the extension name.
func (e *Extension) Name() string { return "audit-hook" }

func (e *Extension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	e.record(ctx, AuditEvent{
		Action:   ActionJobSubmitted,
		Category: CategoryMoney,
		Actor:    string(j.Submitter),
		Severity: SeverityInfo,
		Metadata: map[string]any{
			"queue":  j.Queue,
			"stake":  int64(j.Stake),
			"escrow": "held",
		},
	}, j)
	return nil
}

func (e *Extension) OnJobLeased(ctx context.Context, j *job.Job) error {
	md := map[string]any{
		"queue":  j.Queue,
		"worker": string(j.Worker),
	}
	if j.Deadline != nil {
		md["deadline"] = j.Deadline.UTC().Format(time.RFC3339Nano)
	}
	e.record(ctx, AuditEvent{
		Action:   ActionJobLeased,
		Category: CategoryLifecycle,
		Actor:    string(j.Worker),
		Severity: SeverityInfo,
		Metadata: md,
	}, j)
	return nil
}

func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, held time.Duration) error {
	e.record(ctx, AuditEvent{
		Action:   ActionJobCompleted,
		Category: CategoryLifecycle,
		Actor:    string(j.Worker),
		Severity: SeverityInfo,
		Metadata: map[string]any{
			"queue":      j.Queue,
			"worker":     string(j.Worker),
			"lease_held": held.String(),
		},
	}, j)
	return nil
}

func (e *Extension) OnJobVerified(ctx context.Context, j *job.Job, paid taskfair.Amount) error {
	e.record(ctx, AuditEvent{
		Action:   ActionJobVerified,
		Category: CategoryMoney,
		Actor:    string(j.Submitter),
		Severity: SeverityInfo,
		Metadata: map[string]any{
			"queue":  j.Queue,
			"worker": string(j.Worker),
			"paid":   int64(paid),
		},
	}, j)
	return nil
}

func (e *Extension) OnJobRejected(ctx context.Context, j *job.Job, reason string) error {
	e.record(ctx, AuditEvent{
		Action:   ActionJobRejected,
		Category: CategoryLifecycle,
		Actor:    string(j.Submitter),
		Severity: SeverityWarning,
		Reason:   reason,
		Metadata: map[string]any{
			"queue":    j.Queue,
			"attempts": j.Attempts,
		},
	}, j)
	return nil
}

func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int) error {
	e.record(ctx, AuditEvent{
		Action:   ActionJobRetrying,
		Category: CategoryLifecycle,
		Severity: SeverityWarning,
		Reason:   j.LastError,
		Metadata: map[string]any{
			"queue":   j.Queue,
			"attempt": attempt,
		},
	}, j)
	return nil
}

func (e *Extension) OnJobDeadLettered(ctx context.Context, j *job.Job, refunded taskfair.Amount) error {
	e.record(ctx, AuditEvent{
		Action:   ActionJobDeadLettered,
		Category: CategoryMoney,
		Severity: SeverityCritical,
		Reason:   j.LastError,
		Metadata: map[string]any{
			"queue":    j.Queue,
			"attempts": j.Attempts,
			"refunded": int64(refunded),
		},
	}, j)
	return nil
}

func (e *Extension) OnJobExpiredReleased(ctx context.Context, j *job.Job, releasedBy taskfair.Actor) error {
	e.record(ctx, AuditEvent{
		Action:   ActionJobExpiredReleased,
		Category: CategoryLifecycle,
		Actor:    string(releasedBy),
		Severity: SeverityWarning,
		Metadata: map[string]any{
			"queue":    j.Queue,
			"attempts": j.Attempts,
		},
	}, j)
	return nil
}

func (e *Extension) OnJobRefunded(ctx context.Context, j *job.Job, refunded taskfair.Amount, reason string) error {
	e.record(ctx, AuditEvent{
		Action:   ActionJobRefunded,
		Category: CategoryMoney,
		Severity: SeverityCritical,
		Reason:   reason,
		Metadata: map[string]any{
			"queue":    j.Queue,
			"refunded": int64(refunded),
		},
	}, j)
	return nil
}

func (e *Extension) OnJobDeleted(ctx context.Context, j *job.Job) error {
	e.record(ctx, AuditEvent{
		Action:   ActionJobDeleted,
		Category: CategoryLifecycle,
		Actor:    string(j.Submitter),
		Severity: SeverityInfo,
		Metadata: map[string]any{
			"queue":  j.Queue,
			"status": string(j.Status),
		},
	}, j)
	return nil
}

// record fills in the common fields, applies the action filter, and
// hands the event to the recorder. Failures are logged, never returned.
func (e *Extension) record(ctx context.Context, ev AuditEvent, j *job.Job) {
	if e.enabled != nil && !e.enabled[ev.Action] {
		return
	}
	ev.Resource = ResourceJob
	ev.ResourceID = j.ID.String()
	ev.Outcome = OutcomeSuccess
	ev.OccurredAt = time.Now().UTC()

	if err := e.recorder.Record(ctx, ev); err != nil {
		e.logger.Warn("audit record failed",
			slog.String("action", ev.Action),
			slog.String("job_id", ev.ResourceID),
			slog.String("error", err.Error()),
		)
	}
}
