package taskfair

import (
	"context"
	"log/slog"
)

// Option configures a Market.
type Option func(*Market) error

// Storer is the minimal store interface held by the Market. It covers
// lifecycle operations only. The full composite interface (store.Store) is
// used in subsystem layers that don't create import cycles. Implementations
// satisfy store.Store which embeds all subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Ledger is the external execution environment that moves currency between
// actor accounts. Every call either fully applies or fully fails; the core
// relies on that atomicity instead of holding funds itself.
type Ledger interface {
	// Transfer moves amount from one account to another. It fails with
	// ErrInsufficientFunds when the source balance cannot cover it.
	Transfer(ctx context.Context, from, to Actor, amount Amount) error

	// Balance returns the current balance of an account.
	Balance(ctx context.Context, account Actor) (Amount, error)
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Market is the central coordinator for the job marketplace: it holds the
// store, the ledger adapter, configuration, and the logger that all
// subsystems share.
//
// Create one with New() and functional options, then build an engine.Engine
// on top of it.
type Market struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	ledger     Ledger
	extensions extensionEmitter
}

// New creates a new Market with the given options.
func New(opts ...Option) (*Market, error) {
	m := &Market{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.store == nil {
		return nil, ErrNoStore
	}
	if m.ledger == nil {
		return nil, ErrNoLedger
	}
	return m, nil
}

// Logger returns the market's logger.
func (m *Market) Logger() *slog.Logger { return m.logger }

// Store returns the market's store.
func (m *Market) Store() Storer { return m.store }

// Ledger returns the market's ledger adapter.
func (m *Market) Ledger() Ledger { return m.ledger }

// Config returns a copy of the market's configuration.
func (m *Market) Config() Config { return m.config }

// SetExtensions sets the extension emitter (called by the engine package).
func (m *Market) SetExtensions(e extensionEmitter) { m.extensions = e }

// Close shuts the market down: extensions are notified, then the store is
// closed.
func (m *Market) Close(ctx context.Context) error {
	if m.extensions != nil {
		m.extensions.EmitShutdown(ctx)
	}
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

// WithConfig replaces the default configuration.
func WithConfig(c Config) Option {
	return func(m *Market) error {
		m.config = c
		return nil
	}
}

// WithLogger sets the structured logger for the market.
func WithLogger(l *slog.Logger) Option {
	return func(m *Market) error {
		m.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the market. The store must
// implement Storer at minimum; typically it will be a store.Store which
// embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(m *Market) error {
		m.store = s
		return nil
	}
}

// WithLedger sets the ledger adapter that moves currency.
func WithLedger(l Ledger) Option {
	return func(m *Market) error {
		m.ledger = l
		return nil
	}
}

// WithAdmins grants the privileged refund path to the given actors.
func WithAdmins(admins ...Actor) Option {
	return func(m *Market) error {
		m.config.Admins = append(m.config.Admins, admins...)
		return nil
	}
}
