package engine

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/dlq"
	"github.com/taskfair/taskfair/event"
	"github.com/taskfair/taskfair/ext"
	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/observability"
	"github.com/taskfair/taskfair/queue"
	"github.com/taskfair/taskfair/treasury"
	"github.com/taskfair/taskfair/worker"
)

// Clock supplies the current time for every transition. Injectable so
// tests can drive lease expiry deterministically.
type Clock func() time.Time

// Engine wraps a Market with the full lifecycle surface.
// Use Build() to create one from a Market.
type Engine struct {
	market     *taskfair.Market
	config     taskfair.Config
	logger     *slog.Logger
	clock      Clock
	extensions *ext.Registry

	jobs     job.Store
	workers  worker.Registry
	events   *event.Bus
	treasury *treasury.Service
	dlq      *dlq.Service

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// Treasury configuration applied at build time.
	treasuryOpts []treasury.Option

	// OTel meter provider (optional; nil means use global).
	meterProvider metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithClock replaces the engine's time source.
func WithClock(c Clock) Option {
	return func(eng *Engine) {
		eng.clock = c
	}
}

// WithQueueConfig registers queue-level lease throttling configurations.
// Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTreasuryOptions forwards options to the treasury service created
// at build time (escrow account, logger).
func WithTreasuryOptions(opts ...treasury.Option) Option {
	return func(eng *Engine) {
		eng.treasuryOpts = append(eng.treasuryOpts, opts...)
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine's
// observability extension. If not set, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Market. The Market's store
// must implement every subsystem store interface (see store.Store).
func Build(m *taskfair.Market, opts ...Option) (*Engine, error) {
	logger := m.Logger()
	st := m.Store()

	if st == nil {
		return nil, taskfair.ErrNoStore
	}

	js, ok := st.(job.Store)
	if !ok {
		return nil, fmt.Errorf("taskfair: store does not implement job.Store")
	}
	wr, ok := st.(worker.Registry)
	if !ok {
		return nil, fmt.Errorf("taskfair: store does not implement worker.Registry")
	}
	ds, ok := st.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("taskfair: store does not implement dlq.Store")
	}
	es, ok := st.(event.Store)
	if !ok {
		return nil, fmt.Errorf("taskfair: store does not implement event.Store")
	}
	ts, ok := st.(treasury.Store)
	if !ok {
		return nil, fmt.Errorf("taskfair: store does not implement treasury.Store")
	}

	eng := &Engine{
		market:     m,
		config:     m.Config(),
		logger:     logger,
		clock:      func() time.Time { return time.Now().UTC() },
		extensions: ext.NewRegistry(logger),
		jobs:       js,
		workers:    wr,
		events:     event.NewBus(es),
	}

	for _, opt := range opts {
		opt(eng)
	}

	tOpts := append([]treasury.Option{treasury.WithLogger(logger)}, eng.treasuryOpts...)
	eng.treasury = treasury.NewService(ts, m.Ledger(), tOpts...)
	eng.dlq = dlq.NewService(ds, js, eng.treasury, logger)

	// Event stream: one published event per transition.
	eng.extensions.Register(event.NewExtension(eng.events))

	// Marketplace metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/taskfair/taskfair/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
	}

	m.SetExtensions(eng.extensions)
	return eng, nil
}

// Market returns the underlying market.
func (e *Engine) Market() *taskfair.Market { return e.market }

// Events returns the event bus for subscribing to transition events.
func (e *Engine) Events() *event.Bus { return e.events }

// Treasury returns the escrow service.
func (e *Engine) Treasury() *treasury.Service { return e.treasury }

// DLQ returns the dead letter service.
func (e *Engine) DLQ() *dlq.Service { return e.dlq }

// Extensions returns the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// releaseSlot returns a live-lease slot to the queue manager when a
// leased job resolves.
func (e *Engine) releaseSlot(queueName string) {
	if e.queueManager != nil {
		e.queueManager.Release(queueName)
	}
}
