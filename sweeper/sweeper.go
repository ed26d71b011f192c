// Package sweeper drives lease expiry from outside the core. The engine
// never schedules anything itself: expiry is a derived predicate, and
// the sweeper is one (of possibly many) callers that polls for stale
// leases and forces them open. Running several sweepers is safe; the
// release is conditional, so losers of the race get a stale-state error
// and move on.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
)

// DefaultActor is the identity recorded on releases when none is
// configured.
const DefaultActor taskfair.Actor = "sweeper"

// Releaser is the slice of the engine the sweeper needs.
type Releaser interface {
	ExpiredLeases(ctx context.Context, queue string, limit int) ([]*job.Job, error)
	ReleaseExpired(ctx context.Context, jobID id.JobID, releasedBy taskfair.Actor) (*job.Job, error)
}

// Sweeper periodically scans for expired leases and releases them.
type Sweeper struct {
	releaser Releaser
	queues   []string
	interval time.Duration
	limit    int
	actor    taskfair.Actor
	logger   *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithQueues restricts the sweep to the given queues. By default the
// sweeper scans all queues in one pass.
func WithQueues(queues ...string) Option {
	return func(s *Sweeper) { s.queues = queues }
}

// WithInterval sets the time between sweeps.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.interval = d }
}

// WithLimit caps how many stale leases one sweep releases per queue.
func WithLimit(n int) Option {
	return func(s *Sweeper) { s.limit = n }
}

// WithActor sets the identity recorded on release events.
func WithActor(a taskfair.Actor) Option {
	return func(s *Sweeper) { s.actor = a }
}

// WithLogger sets the sweeper's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// New creates a Sweeper.
func New(r Releaser, opts ...Option) *Sweeper {
	s := &Sweeper{
		releaser: r,
		interval: 30 * time.Second,
		limit:    100,
		actor:    DefaultActor,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps until the context is cancelled. A sweep runs immediately
// on start, then on every interval tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass over the configured queues, releasing every stale
// lease it finds. Returns the first scan error; individual release
// races are logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) error {
	queues := s.queues
	if len(queues) == 0 {
		// Empty queue name scans all queues in one store query.
		queues = []string{""}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, queue := range queues {
		g.Go(func() error {
			return s.sweepQueue(ctx, queue)
		})
	}
	return g.Wait()
}

func (s *Sweeper) sweepQueue(ctx context.Context, queue string) error {
	stale, err := s.releaser.ExpiredLeases(ctx, queue, s.limit)
	if err != nil {
		return err
	}

	released := 0
	for _, j := range stale {
		if _, err := s.releaser.ReleaseExpired(ctx, j.ID, s.actor); err != nil {
			// Someone else resolved the job between scan and release.
			if taskfair.IsInvalidState(err) || errors.Is(err, taskfair.ErrJobNotFound) {
				continue
			}
			s.logger.Warn("failed to release expired lease",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		released++
	}

	if released > 0 {
		s.logger.Info("released expired leases",
			slog.String("queue", queue),
			slog.Int("count", released),
		)
	}
	return nil
}
