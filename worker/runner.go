package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/backoff"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
)

// Market is the slice of the marketplace the runner needs: leasing work
// and reporting what happened to it.
type Market interface {
	Lease(ctx context.Context, queue string, worker taskfair.Actor, limit int) ([]*job.Job, error)
	Complete(ctx context.Context, jobID id.JobID, worker taskfair.Actor, result []byte) (*job.Job, error)
	Fail(ctx context.Context, jobID id.JobID, worker taskfair.Actor, reason string) (*job.Job, error)
}

// Runner polls the marketplace for leases on behalf of one worker
// identity and executes them. The identity's subscription must cover
// every polled queue; the marketplace refuses leases outside it. Lease
// polling is idempotent on the server side, so a crashed runner that
// restarts picks up its own live leases before taking new work.
type Runner struct {
	market   Market
	executor *Executor
	actor    taskfair.Actor
	queues   []string
	batch    int
	idle     backoff.Strategy
	logger   *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithQueues sets the queues the runner polls. Defaults to the queues
// the executor has handlers for.
func WithQueues(queues ...string) RunnerOption {
	return func(r *Runner) { r.queues = queues }
}

// WithBatchSize sets how many leases each poll asks for.
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) { r.batch = n }
}

// WithIdleBackoff sets the delay strategy between empty polls.
func WithIdleBackoff(s backoff.Strategy) RunnerOption {
	return func(r *Runner) { r.idle = s }
}

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a runner for one worker identity.
func NewRunner(market Market, executor *Executor, actor taskfair.Actor, opts ...RunnerOption) *Runner {
	r := &Runner{
		market:   market,
		executor: executor,
		actor:    actor,
		batch:    1,
		idle:     backoff.Default(),
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.queues) == 0 {
		r.queues = executor.Queues()
	}
	return r
}

// Start launches the poll loop. It returns immediately.
func (r *Runner) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true

	r.logger.Info("worker runner starting",
		slog.String("actor", string(r.actor)),
		slog.Any("queues", r.queues),
		slog.Int("batch", r.batch),
	)

	r.wg.Add(1)
	go r.pollLoop()
	return nil
}

// Stop signals the poll loop to exit and waits for in-flight jobs.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("worker runner stopped", slog.String("actor", string(r.actor)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) pollLoop() {
	defer r.wg.Done()

	emptyPolls := 0
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		worked := false
		for _, queue := range r.queues {
			jobs, err := r.market.Lease(context.Background(), queue, r.actor, r.batch)
			if err != nil {
				r.logger.Error("lease error",
					slog.String("queue", queue),
					slog.String("error", err.Error()),
				)
				continue
			}
			for _, j := range jobs {
				worked = true
				r.run(j)
			}
		}

		if worked {
			emptyPolls = 0
			continue
		}
		emptyPolls++
		if !r.sleep(r.idle(emptyPolls)) {
			return
		}
	}
}

// run executes one leased job and reports the outcome.
func (r *Runner) run(j *job.Job) {
	ctx := context.Background()

	result, execErr := r.executor.Execute(ctx, j)
	if execErr != nil {
		if _, err := r.market.Fail(ctx, j.ID, r.actor, execErr.Error()); err != nil {
			r.logger.Error("failed to report job failure",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if _, err := r.market.Complete(ctx, j.ID, r.actor, result); err != nil {
		r.logger.Error("failed to report job completion",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// sleep waits for d or until stop. Returns false when stopping.
func (r *Runner) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
