package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/ext"
	"github.com/taskfair/taskfair/job"
)

// meterName is the instrumentation scope for marketplace metrics.
const meterName = "github.com/taskfair/taskfair/observability"

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.JobSubmitted       = (*MetricsExtension)(nil)
	_ ext.JobLeased          = (*MetricsExtension)(nil)
	_ ext.JobCompleted       = (*MetricsExtension)(nil)
	_ ext.JobVerified        = (*MetricsExtension)(nil)
	_ ext.JobRejected        = (*MetricsExtension)(nil)
	_ ext.JobRetrying        = (*MetricsExtension)(nil)
	_ ext.JobDeadLettered    = (*MetricsExtension)(nil)
	_ ext.JobExpiredReleased = (*MetricsExtension)(nil)
	_ ext.JobRefunded        = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics. Register it as
// an engine extension to track submission rates, settlement outcomes,
// retry pressure, and the escrow float.
type MetricsExtension struct {
	transitions metric.Int64Counter
	escrowed    metric.Int64UpDownCounter
	heldTime    metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider. Without a configured provider the instruments are
// noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use it to inject a specific MeterProvider in tests.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	transitions, tErr := meter.Int64Counter(
		"taskfair.job.transitions",
		metric.WithDescription("Job lifecycle transitions by kind"),
		metric.WithUnit("{transition}"),
	)
	_ = tErr // noop fallback guaranteed by OTel API contract

	escrowed, eErr := meter.Int64UpDownCounter(
		"taskfair.treasury.escrowed",
		metric.WithDescription("Amount currently held in escrow"),
		metric.WithUnit("{credit}"),
	)
	_ = eErr

	heldTime, hErr := meter.Float64Histogram(
		"taskfair.job.held_time",
		metric.WithDescription("Time from lease to completed result in seconds"),
		metric.WithUnit("s"),
	)
	_ = hErr

	return &MetricsExtension{
		transitions: transitions,
		escrowed:    escrowed,
		heldTime:    heldTime,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func (m *MetricsExtension) count(ctx context.Context, kind, queue string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("queue", queue),
	))
}

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.count(ctx, "submitted", j.Queue)
	m.escrowed.Add(ctx, int64(j.Stake), metric.WithAttributes(attribute.String("queue", j.Queue)))
	return nil
}

// OnJobLeased implements ext.JobLeased.
func (m *MetricsExtension) OnJobLeased(ctx context.Context, j *job.Job) error {
	m.count(ctx, "leased", j.Queue)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, held time.Duration) error {
	m.count(ctx, "completed", j.Queue)
	m.heldTime.Record(ctx, held.Seconds(), metric.WithAttributes(attribute.String("queue", j.Queue)))
	return nil
}

// OnJobVerified implements ext.JobVerified.
func (m *MetricsExtension) OnJobVerified(ctx context.Context, j *job.Job, paid taskfair.Amount) error {
	m.count(ctx, "verified", j.Queue)
	m.escrowed.Add(ctx, -int64(paid), metric.WithAttributes(attribute.String("queue", j.Queue)))
	return nil
}

// OnJobRejected implements ext.JobRejected.
func (m *MetricsExtension) OnJobRejected(ctx context.Context, j *job.Job, _ string) error {
	m.count(ctx, "rejected", j.Queue)
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int) error {
	m.count(ctx, "retried", j.Queue)
	return nil
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (m *MetricsExtension) OnJobDeadLettered(ctx context.Context, j *job.Job, refunded taskfair.Amount) error {
	m.count(ctx, "dead_lettered", j.Queue)
	m.escrowed.Add(ctx, -int64(refunded), metric.WithAttributes(attribute.String("queue", j.Queue)))
	return nil
}

// OnJobExpiredReleased implements ext.JobExpiredReleased.
func (m *MetricsExtension) OnJobExpiredReleased(ctx context.Context, j *job.Job, _ taskfair.Actor) error {
	m.count(ctx, "expired_released", j.Queue)
	return nil
}

// OnJobRefunded implements ext.JobRefunded.
func (m *MetricsExtension) OnJobRefunded(ctx context.Context, j *job.Job, refunded taskfair.Amount, _ string) error {
	m.count(ctx, "refunded", j.Queue)
	m.escrowed.Add(ctx, -int64(refunded), metric.WithAttributes(attribute.String("queue", j.Queue)))
	return nil
}
