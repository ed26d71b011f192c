package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/middleware"
)

// Handler executes the job payload for one queue and returns the result
// bytes submitted on completion.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Executor runs a single leased job through the middleware chain and the
// handler registered for its queue.
type Executor struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor wrapping handlers with the given
// middleware.
func NewExecutor(logger *slog.Logger, mws ...middleware.Middleware) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		handlers: make(map[string]Handler),
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Register binds a handler to a queue. Registering twice for the same
// queue replaces the previous handler.
func (e *Executor) Register(queue string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[queue] = h
}

// Queues returns the queues with a registered handler.
func (e *Executor) Queues() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	queues := make([]string, 0, len(e.handlers))
	for q := range e.handlers {
		queues = append(queues, q)
	}
	return queues
}

// Execute runs the job and returns the result to submit on completion.
func (e *Executor) Execute(ctx context.Context, j *job.Job) ([]byte, error) {
	e.mu.RLock()
	handler, ok := e.handlers[j.Queue]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no handler registered for queue %q", j.Queue)
	}

	terminal := func(ctx context.Context) ([]byte, error) {
		return handler(ctx, j.Payload)
	}
	return e.mw(ctx, j, terminal)
}
