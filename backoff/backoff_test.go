package backoff

import (
	"testing"
	"time"
)

func TestConstant(t *testing.T) {
	s := Constant(2 * time.Second)
	for _, attempt := range []int{1, 5, 100} {
		if got := s(attempt); got != 2*time.Second {
			t.Errorf("attempt %d: got %v, want 2s", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	s := Exponential(time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
		{0, time.Second},
		{-1, time.Second},
	}
	for _, tt := range tests {
		if got := s(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialWithJitterBounds(t *testing.T) {
	base := time.Second
	max := 10 * time.Second
	s := ExponentialWithJitter(base, max)

	for attempt := 1; attempt <= 8; attempt++ {
		for i := 0; i < 50; i++ {
			got := s(attempt)
			if got < base {
				t.Fatalf("attempt %d: %v below base %v", attempt, got, base)
			}
			if got > max {
				t.Fatalf("attempt %d: %v above max %v", attempt, got, max)
			}
		}
	}
}
