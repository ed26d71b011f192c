// Package api exposes the market over HTTP. Callers authenticate by
// asserting an identity in the X-Taskfair-Actor header; the engine's own
// role checks (submitter, lease holder, admin) decide what that identity
// may do, so the transport stays a thin translation layer.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/taskfair/taskfair/engine"
)

// ActorHeader carries the caller identity on every request.
const ActorHeader = "X-Taskfair-Actor"

// Server serves the market's HTTP API.
type Server struct {
	engine *engine.Engine
	logger *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a Server around a built engine.
func NewServer(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine: eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Delete("/jobs/{id}", s.handleDeleteJob)
		r.Get("/jobs/{id}/expired", s.handleJobExpired)
		r.Post("/jobs/{id}/complete", s.handleComplete)
		r.Post("/jobs/{id}/verify", s.handleVerify)
		r.Post("/jobs/{id}/reject", s.handleReject)
		r.Post("/jobs/{id}/fail", s.handleFail)
		r.Post("/jobs/{id}/release", s.handleReleaseExpired)
		r.Post("/jobs/{id}/refund", s.handleAdminRefund)

		r.Post("/lease", s.handleLease)

		r.Post("/subscriptions", s.handleSubscribe)
		r.Get("/subscriptions", s.handleGetSubscription)
		r.Delete("/subscriptions", s.handleUnsubscribe)

		r.Get("/queues/{name}/stats", s.handleQueueStats)
		r.Get("/queues/{name}/expired", s.handleExpiredLeases)

		r.Get("/dlq", s.handleListDLQ)
		r.Post("/dlq/{id}/resubmit", s.handleResubmit)

		r.Get("/treasury/escrowed", s.handleEscrowed)
		r.Get("/treasury/reconcile", s.handleReconcile)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
