// Package backoff provides retry delay strategies for workers polling
// empty queues and for spacing retry attempts.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a given attempt. Attempt numbering
// starts at 1.
type Strategy func(attempt int) time.Duration

// Constant returns the same delay for every attempt.
func Constant(d time.Duration) Strategy {
	return func(int) time.Duration { return d }
}

// Exponential doubles the base delay with each attempt, capped at max.
func Exponential(base, max time.Duration) Strategy {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		if d > max {
			return max
		}
		return d
	}
}

// ExponentialWithJitter is Exponential with up to 50% random jitter
// added, to spread out workers that backed off at the same moment.
func ExponentialWithJitter(base, max time.Duration) Strategy {
	exp := Exponential(base, max)
	return func(attempt int) time.Duration {
		d := exp(attempt)
		jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
		if d+jitter > max {
			return max
		}
		return d + jitter
	}
}

// Default is the strategy workers use when none is configured:
// exponential from 500ms capped at 30s, with jitter.
func Default() Strategy {
	return ExponentialWithJitter(500*time.Millisecond, 30*time.Second)
}
