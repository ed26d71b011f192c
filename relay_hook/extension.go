package relayhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/ext"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
)

// SignatureHeader carries the hex HMAC-SHA256 digest of the request body.
const SignatureHeader = "X-Taskfair-Signature"

// Compile-time interface checks.
var (
	_ ext.Extension          = (*Extension)(nil)
	_ ext.JobSubmitted       = (*Extension)(nil)
	_ ext.JobLeased          = (*Extension)(nil)
	_ ext.JobCompleted       = (*Extension)(nil)
	_ ext.JobVerified        = (*Extension)(nil)
	_ ext.JobRejected        = (*Extension)(nil)
	_ ext.JobRetrying        = (*Extension)(nil)
	_ ext.JobDeadLettered    = (*Extension)(nil)
	_ ext.JobExpiredReleased = (*Extension)(nil)
	_ ext.JobRefunded        = (*Extension)(nil)
	_ ext.JobDeleted         = (*Extension)(nil)
)

// Extension delivers taskfair lifecycle events to a webhook endpoint.
// Each lifecycle hook POSTs one typed JSON envelope. Delivery failures
// are logged and swallowed so a slow receiver never blocks a settlement.
type Extension struct {
	endpoint string
	client   *http.Client
	secret   []byte
	enabled  map[string]bool        // nil = all enabled
	payloads map[string]PayloadFunc // custom payload builders
	logger   *slog.Logger
}

// envelope is the wire form of one delivery.
type envelope struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Data       any    `json:"data"`
	OccurredAt string `json:"occurred_at"`
}

// New creates an Extension that delivers lifecycle events to the given
// endpoint URL.
func New(endpoint string, opts ...Option) *Extension {
	h := &Extension{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements ext.Extension.
func (h *Extension) Name() string { return "relay-hook" }

// ── Lifecycle hooks ─────────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (h *Extension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	h.send(ctx, EventJobSubmitted, newJobPayload(j))
	return nil
}

// OnJobLeased implements ext.JobLeased.
func (h *Extension) OnJobLeased(ctx context.Context, j *job.Job) error {
	h.send(ctx, EventJobLeased, newJobPayload(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (h *Extension) OnJobCompleted(ctx context.Context, j *job.Job, held time.Duration) error {
	h.send(ctx, EventJobCompleted, &jobCompletedPayload{
		jobPayload: *newJobPayload(j),
		HeldMs:     held.Milliseconds(),
	})
	return nil
}

// OnJobVerified implements ext.JobVerified.
func (h *Extension) OnJobVerified(ctx context.Context, j *job.Job, paid taskfair.Amount) error {
	h.send(ctx, EventJobVerified, &jobSettledPayload{
		jobPayload: *newJobPayload(j),
		Amount:     int64(paid),
	})
	return nil
}

// OnJobRejected implements ext.JobRejected.
func (h *Extension) OnJobRejected(ctx context.Context, j *job.Job, reason string) error {
	h.send(ctx, EventJobRejected, &jobReasonPayload{
		jobPayload: *newJobPayload(j),
		Reason:     reason,
	})
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (h *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int) error {
	h.send(ctx, EventJobRetrying, &jobRetryingPayload{
		jobPayload: *newJobPayload(j),
		Attempt:    attempt,
		LastError:  j.LastError,
	})
	return nil
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (h *Extension) OnJobDeadLettered(ctx context.Context, j *job.Job, refunded taskfair.Amount) error {
	h.send(ctx, EventJobDeadLettered, &jobSettledPayload{
		jobPayload: *newJobPayload(j),
		Amount:     int64(refunded),
	})
	return nil
}

// OnJobExpiredReleased implements ext.JobExpiredReleased.
func (h *Extension) OnJobExpiredReleased(ctx context.Context, j *job.Job, releasedBy taskfair.Actor) error {
	h.send(ctx, EventJobExpiredReleased, &jobReleasedPayload{
		jobPayload: *newJobPayload(j),
		ReleasedBy: string(releasedBy),
	})
	return nil
}

// OnJobRefunded implements ext.JobRefunded.
func (h *Extension) OnJobRefunded(ctx context.Context, j *job.Job, refunded taskfair.Amount, reason string) error {
	h.send(ctx, EventJobRefunded, &jobRefundedPayload{
		jobPayload: *newJobPayload(j),
		Amount:     int64(refunded),
		Reason:     reason,
	})
	return nil
}

// OnJobDeleted implements ext.JobDeleted.
func (h *Extension) OnJobDeleted(ctx context.Context, j *job.Job) error {
	h.send(ctx, EventJobDeleted, newJobPayload(j))
	return nil
}

// ── Internal helpers ────────────────────────────────

// send delivers one event if its type is enabled. Failures are logged,
// never returned to the lifecycle path.
func (h *Extension) send(ctx context.Context, eventType string, defaultData any) {
	if h.enabled != nil && !h.enabled[eventType] {
		return
	}

	data := defaultData
	if fn, ok := h.payloads[eventType]; ok {
		custom, err := fn(defaultData)
		if err != nil {
			h.logger.Warn("webhook payload build failed",
				slog.String("event", eventType),
				slog.String("error", err.Error()),
			)
			return
		}
		data = custom
	}

	if err := h.deliver(ctx, eventType, data); err != nil {
		h.logger.Warn("webhook delivery failed",
			slog.String("event", eventType),
			slog.String("endpoint", h.endpoint),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Extension) deliver(ctx context.Context, eventType string, data any) error {
	body, err := json.Marshal(envelope{
		ID:         id.NewEventID().String(),
		Type:       eventType,
		Data:       data,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(h.secret) > 0 {
		mac := hmac.New(sha256.New, h.secret)
		mac.Write(body)
		req.Header.Set(SignatureHeader, hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}

// ── Default payload types ───────────────────────────

type jobPayload struct {
	JobID     string `json:"job_id"`
	Queue     string `json:"queue"`
	Submitter string `json:"submitter"`
	Worker    string `json:"worker,omitempty"`
	Status    string `json:"status"`
	Stake     int64  `json:"stake"`
	Attempts  int    `json:"attempts"`
}

func newJobPayload(j *job.Job) *jobPayload {
	return &jobPayload{
		JobID:     j.ID.String(),
		Queue:     j.Queue,
		Submitter: string(j.Submitter),
		Worker:    string(j.Worker),
		Status:    string(j.Status),
		Stake:     int64(j.Stake),
		Attempts:  j.Attempts,
	}
}

type jobCompletedPayload struct {
	jobPayload
	HeldMs int64 `json:"held_ms"`
}

type jobSettledPayload struct {
	jobPayload
	Amount int64 `json:"amount"`
}

type jobReasonPayload struct {
	jobPayload
	Reason string `json:"reason"`
}

type jobRetryingPayload struct {
	jobPayload
	Attempt   int    `json:"attempt"`
	LastError string `json:"last_error,omitempty"`
}

type jobReleasedPayload struct {
	jobPayload
	ReleasedBy string `json:"released_by"`
}

type jobRefundedPayload struct {
	jobPayload
	Amount int64  `json:"amount"`
	Reason string `json:"reason,omitempty"`
}
