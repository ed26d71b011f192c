package relayhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
	relayhook "github.com/taskfair/taskfair/relay_hook"
)

type delivery struct {
	body      []byte
	signature string
}

type captureServer struct {
	mu         sync.Mutex
	deliveries []delivery
	status     int
	srv        *httptest.Server
}

func newCaptureServer() *captureServer {
	c := &captureServer{status: http.StatusOK}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.deliveries = append(c.deliveries, delivery{
			body:      body,
			signature: r.Header.Get(relayhook.SignatureHeader),
		})
		status := c.status
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	return c
}

func (c *captureServer) setStatus(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = code
}

func (c *captureServer) all() []delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivery(nil), c.deliveries...)
}

type envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	OccurredAt string          `json:"occurred_at"`
}

func testJob() *job.Job {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &job.Job{
		Entity:    taskfair.NewEntityAt(now),
		ID:        id.NewJobID(),
		Queue:     "render",
		Stake:     100,
		Submitter: "alice",
		Worker:    "bob",
		Status:    job.StatusLeased,
		Attempts:  1,
	}
}

func TestDeliversEnvelope(t *testing.T) {
	cs := newCaptureServer()
	defer cs.srv.Close()

	hook := relayhook.New(cs.srv.URL)
	j := testJob()

	if err := hook.OnJobVerified(context.Background(), j, 100); err != nil {
		t.Fatalf("OnJobVerified: %v", err)
	}

	got := cs.all()
	if len(got) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(got))
	}

	var env envelope
	if err := json.Unmarshal(got[0].body, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != relayhook.EventJobVerified {
		t.Errorf("type = %q, want %q", env.Type, relayhook.EventJobVerified)
	}
	if env.ID == "" || env.OccurredAt == "" {
		t.Errorf("envelope missing id or occurred_at: %+v", env)
	}

	var data struct {
		JobID  string `json:"job_id"`
		Queue  string `json:"queue"`
		Amount int64  `json:"amount"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.JobID != j.ID.String() {
		t.Errorf("job_id = %q, want %q", data.JobID, j.ID.String())
	}
	if data.Amount != 100 {
		t.Errorf("amount = %d, want 100", data.Amount)
	}
}

func TestSignsBodyWithSecret(t *testing.T) {
	cs := newCaptureServer()
	defer cs.srv.Close()

	secret := []byte("s3cret")
	hook := relayhook.New(cs.srv.URL, relayhook.WithSecret(secret))

	if err := hook.OnJobSubmitted(context.Background(), testJob()); err != nil {
		t.Fatalf("OnJobSubmitted: %v", err)
	}

	got := cs.all()
	if len(got) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(got))
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(got[0].body)
	want := hex.EncodeToString(mac.Sum(nil))
	if got[0].signature != want {
		t.Errorf("signature = %q, want %q", got[0].signature, want)
	}
}

func TestEventFilter(t *testing.T) {
	cs := newCaptureServer()
	defer cs.srv.Close()

	hook := relayhook.New(cs.srv.URL,
		relayhook.WithEvents(relayhook.EventJobDeadLettered),
	)
	ctx := context.Background()
	j := testJob()

	if err := hook.OnJobSubmitted(ctx, j); err != nil {
		t.Fatalf("OnJobSubmitted: %v", err)
	}
	if err := hook.OnJobDeadLettered(ctx, j, 100); err != nil {
		t.Fatalf("OnJobDeadLettered: %v", err)
	}

	got := cs.all()
	if len(got) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(got))
	}
	var env envelope
	if err := json.Unmarshal(got[0].body, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != relayhook.EventJobDeadLettered {
		t.Errorf("type = %q", env.Type)
	}
}

func TestCustomPayload(t *testing.T) {
	cs := newCaptureServer()
	defer cs.srv.Close()

	hook := relayhook.New(cs.srv.URL,
		relayhook.WithPayloadFunc(relayhook.EventJobDeleted, func(args any) (any, error) {
			return map[string]string{"tombstone": "true"}, nil
		}),
	)

	if err := hook.OnJobDeleted(context.Background(), testJob()); err != nil {
		t.Fatalf("OnJobDeleted: %v", err)
	}

	got := cs.all()
	if len(got) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(got))
	}
	var env envelope
	if err := json.Unmarshal(got[0].body, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["tombstone"] != "true" {
		t.Errorf("data = %v", data)
	}
}

func TestEndpointFailureIsSwallowed(t *testing.T) {
	cs := newCaptureServer()
	defer cs.srv.Close()
	cs.setStatus(http.StatusBadGateway)

	hook := relayhook.New(cs.srv.URL)
	if err := hook.OnJobLeased(context.Background(), testJob()); err != nil {
		t.Fatalf("delivery failure must not propagate, got %v", err)
	}
}
