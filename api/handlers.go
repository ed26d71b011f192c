package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/dlq"
	"github.com/taskfair/taskfair/id"
)

// actor pulls the asserted caller identity off the request. An empty
// identity is rejected before it reaches the engine.
func (s *Server) actor(w http.ResponseWriter, r *http.Request) (taskfair.Actor, bool) {
	a := taskfair.Actor(r.Header.Get(ActorHeader))
	if a == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + ActorHeader + " header"})
		return "", false
	}
	return a, true
}

func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (id.JobID, bool) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return id.Nil, false
	}
	return jobID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// parseDuration accepts an empty string as zero.
func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}

// ── Job lifecycle ─────────────────────────────────────────────────

type submitRequest struct {
	Queue             string          `json:"queue"`
	Payload           []byte          `json:"payload"`
	Stake             taskfair.Amount `json:"stake"`
	VisibilityTimeout string          `json:"visibility_timeout,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	visibility, err := parseDuration(req.VisibilityTimeout)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	j, err := s.engine.Submit(r.Context(), caller, req.Queue, req.Payload, req.Stake, visibility)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}

	j, err := s.engine.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.actor(w, r)
	if !ok {
		return
	}
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}

	if err := s.engine.Delete(r.Context(), jobID, caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobExpired(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}

	expired, err := s.engine.IsExpired(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"expired": expired})
}

type completeRequest struct {
	Result []byte `json:"result"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.actor(w, r)
	if !ok {
		return
	}
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}

	var req completeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	j, err := s.engine.Complete(r.Context(), jobID, caller, req.Result)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.actor(w, r)
	if !ok {
		return
	}
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}

	j, err := s.engine.VerifyAndRelease(r.Context(), jobID, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.actor(w, r)
	if !ok {
		return
	}
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}

	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	j, err := s.engine.Reject(r.Context(), jobID, caller, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.actor(w, r)
	if !ok {
		return
	}
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}

	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	j, err := s.engine.Fail(r.Context(), jobID, caller, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleReleaseExpired(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.actor(w, r)
	if !ok {
		return
	}
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}

	j, err := s.engine.ReleaseExpired(r.Context(), jobID, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleAdminRefund(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.actor(w, r)
	if !ok {
		return
	}
	jobID, ok := s.jobID(w, r)
	if !ok {
		return
	}

	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}

	j, err := s.engine.AdminRefund(r.Context(), jobID, caller, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// ── Leasing ───────────────────────────────────────────────────────

type leaseRequest struct {
	Queue string `json:"queue"`
	Limit int    `json:"limit"`
}

func (s *Server) handleLease(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req leaseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	jobs, err := s.engine.Lease(r.Context(), req.Queue, caller, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// ── Subscriptions ─────────────────────────────────────────────────

type subscribeRequest struct {
	Queues            []string `json:"queues"`
	BatchSize         int      `json:"batch_size"`
	VisibilityTimeout string   `json:"visibility_timeout,omitempty"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.actor(w, r)
	if !ok {
		return
	}

	var req subscribeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	visibility, err := parseDuration(req.VisibilityTimeout)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	sub, err := s.engine.Subscribe(r.Context(), caller, req.Queues, req.BatchSize, visibility)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.actor(w, r)
	if !ok {
		return
	}

	sub, err := s.engine.Subscription(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.actor(w, r)
	if !ok {
		return
	}

	if err := s.engine.Unsubscribe(r.Context(), caller); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Queues ────────────────────────────────────────────────────────

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.QueueStats(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExpiredLeases(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	jobs, err := s.engine.ExpiredLeases(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// ── Dead letters ──────────────────────────────────────────────────

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.DeadLetters(r.Context(), dlq.ListOpts{
		Queue:  r.URL.Query().Get("queue"),
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleResubmit(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.actor(w, r)
	if !ok {
		return
	}

	entryID, err := id.ParseDLQID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	j, err := s.engine.ResubmitDeadLetter(r.Context(), entryID, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// ── Treasury ──────────────────────────────────────────────────────

func (s *Server) handleEscrowed(w http.ResponseWriter, r *http.Request) {
	total, err := s.engine.Treasury().Escrowed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]taskfair.Amount{"escrowed": total})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	surplus, err := s.engine.Treasury().Reconcile(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]taskfair.Amount{"surplus": surplus})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
