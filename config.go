package taskfair

import "time"

// Config holds the engine-enforced bounds and lifecycle policy knobs.
// The engine, not the caller, enforces every bound here.
type Config struct {
	// MaxPayloadSize caps the opaque payload in bytes.
	MaxPayloadSize int

	// MaxQueueNameLen caps the queue name length in bytes.
	MaxQueueNameLen int

	// MinTimeout and MaxTimeout bound the visibility timeout a submitter
	// may attach to a job.
	MinTimeout time.Duration
	MaxTimeout time.Duration

	// MinBatchSize and MaxBatchSize bound a worker subscription's batch size.
	MinBatchSize int
	MaxBatchSize int

	// MaxAttempts is the retry budget: a job whose attempt counter reaches
	// this value is dead-lettered and its stake refunded to the submitter.
	MaxAttempts int

	// ExpiryCountsAsAttempt makes ReleaseExpired increment the attempt
	// counter. Off by default: an expired lease reflects a stalled worker,
	// not an exhausted retry budget.
	ExpiryCountsAsAttempt bool

	// RejectionCountsAsAttempt makes Reject increment the attempt counter.
	// Off by default: rejection is a review outcome.
	RejectionCountsAsAttempt bool

	// Admins are the actors allowed to call AdminRefund.
	Admins []Actor
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxPayloadSize:  4 * 1024,
		MaxQueueNameLen: 64,
		MinTimeout:      30 * time.Second,
		MaxTimeout:      24 * time.Hour,
		MinBatchSize:    1,
		MaxBatchSize:    50,
		MaxAttempts:     3,
	}
}

// IsAdmin reports whether the actor may use the privileged refund path.
func (c Config) IsAdmin(a Actor) bool {
	for _, admin := range c.Admins {
		if admin == a {
			return true
		}
	}
	return false
}

// ValidTimeout reports whether d is inside the configured visibility
// timeout range.
func (c Config) ValidTimeout(d time.Duration) bool {
	return d >= c.MinTimeout && d <= c.MaxTimeout
}

// ValidBatchSize reports whether n is inside the configured batch range.
func (c Config) ValidBatchSize(n int) bool {
	return n >= c.MinBatchSize && n <= c.MaxBatchSize
}
