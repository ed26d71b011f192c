package client

import (
	"context"
	"net/http"
	"time"

	"github.com/taskfair/taskfair/worker"
)

// Subscribe registers or replaces this identity's queue subscription.
// A zero visibility picks the server default lease duration.
func (c *Client) Subscribe(ctx context.Context, queues []string, batchSize int, visibility time.Duration) (*worker.Subscription, error) {
	req := struct {
		Queues            []string `json:"queues"`
		BatchSize         int      `json:"batch_size"`
		VisibilityTimeout string   `json:"visibility_timeout,omitempty"`
	}{
		Queues:    queues,
		BatchSize: batchSize,
	}
	if visibility > 0 {
		req.VisibilityTimeout = visibility.String()
	}

	var sub worker.Subscription
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions", nil, req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Subscription fetches this identity's current subscription.
func (c *Client) Subscription(ctx context.Context) (*worker.Subscription, error) {
	var sub worker.Subscription
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions", nil, nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Unsubscribe removes this identity's subscription. Leases it already
// holds are unaffected.
func (c *Client) Unsubscribe(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/subscriptions", nil, nil, nil)
}
