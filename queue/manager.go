package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue lease throttling.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// MaxOutstanding limits how many leases from this queue may be live
	// at once across the local process. Zero means no limit.
	MaxOutstanding int

	// LeaseRate is the maximum sustained lease grants per second for
	// this queue. Zero disables rate limiting.
	LeaseRate float64

	// LeaseBurst is the burst size for the token-bucket limiter.
	// Defaults to 1 if LeaseRate is set but LeaseBurst is zero.
	LeaseBurst int
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager throttles lease acquisition per queue. It is safe for
// concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{queues: make(map[string]*queueState, len(configs))}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.LeaseRate > 0 {
		burst := cfg.LeaseBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.LeaseRate), burst)
	}
	return qs
}

// Acquire checks the rate limit and outstanding-lease cap for the queue.
// If the lease may proceed it increments the active counter and returns
// true. The caller MUST call Release when the lease resolves.
func (m *Manager) Acquire(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.queues[queue]
	if qs == nil {
		return true
	}
	if qs.limiter != nil && !qs.limiter.Allow() {
		return false
	}
	if qs.config.MaxOutstanding > 0 && qs.active >= qs.config.MaxOutstanding {
		return false
	}
	qs.active++
	return true
}

// Release decrements the active lease count for the queue.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// SetConfig dynamically updates (or creates) a queue configuration,
// preserving the current active count.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.queues[cfg.Name]
	qs := newQueueState(cfg)
	if existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// Outstanding returns the current number of live leases for a queue.
func (m *Manager) Outstanding(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
