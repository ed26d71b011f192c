// Package client provides a Go client for a remote taskfair instance
// over its HTTP API.
//
// Usage:
//
//	c := client.New("https://market.example.com", "alice")
//
//	// Post a job with a 100-unit stake.
//	j, err := c.Submit(ctx, "render", payload, 100, 0)
//
//	// Work the queue as another identity. Leasing requires a
//	// subscription covering the queue.
//	w := client.New("https://market.example.com", "bob")
//	sub, err := w.Subscribe(ctx, []string{"render"}, 10, 0)
//	jobs, err := w.Lease(ctx, "render", 10)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/api"
)

// Error is a non-2xx API response translated back into an error. It
// unwraps to the closest taskfair sentinel so callers can use errors.Is
// against the same errors a local engine would return.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("taskfair/client: %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the HTTP status back onto the sentinel family.
func (e *Error) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return taskfair.ErrInvalidArgument
	case http.StatusPaymentRequired:
		return taskfair.ErrInsufficientFunds
	case http.StatusUnauthorized, http.StatusForbidden:
		return taskfair.ErrUnauthorized
	case http.StatusNotFound:
		return taskfair.ErrJobNotFound
	case http.StatusConflict:
		return taskfair.ErrInvalidState
	default:
		return nil
	}
}

// Client talks to a remote taskfair server. All requests carry the
// client's actor identity; the server's role checks decide what that
// identity may do.
type Client struct {
	baseURL string
	actor   taskfair.Actor
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client for the server at baseURL acting as the given
// identity.
func New(baseURL string, actor taskfair.Actor, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		actor:   actor,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Actor returns the identity this client asserts.
func (c *Client) Actor() taskfair.Actor { return c.actor }

// As returns a copy of the client asserting a different identity.
// Useful for tests and admin tooling that act on behalf of several
// parties against one server.
func (c *Client) As(actor taskfair.Actor) *Client {
	clone := *c
	clone.actor = actor
	return &clone
}

// do executes one request and decodes the response into out (when out
// is non-nil and the response has a body).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("taskfair/client: marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("taskfair/client: new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set(api.ActorHeader, string(c.actor))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("taskfair/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("taskfair/client: decode response: %w", err)
	}
	return nil
}

func (c *Client) apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil || body.Error == "" {
		body.Error = resp.Status
	}
	return &Error{StatusCode: resp.StatusCode, Message: body.Error}
}

// Healthy reports whether the server answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// Escrowed returns the total stake held in open escrow on the server.
func (c *Client) Escrowed(ctx context.Context) (taskfair.Amount, error) {
	var out map[string]taskfair.Amount
	if err := c.do(ctx, http.MethodGet, "/v1/treasury/escrowed", nil, nil, &out); err != nil {
		return 0, err
	}
	return out["escrowed"], nil
}

// Reconcile compares the treasury balance against open receipts and
// returns the surplus.
func (c *Client) Reconcile(ctx context.Context) (taskfair.Amount, error) {
	var out map[string]taskfair.Amount
	if err := c.do(ctx, http.MethodGet, "/v1/treasury/reconcile", nil, nil, &out); err != nil {
		return 0, err
	}
	return out["surplus"], nil
}

func limitQuery(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}
