package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/taskfair/taskfair/dlq"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
	"github.com/taskfair/taskfair/queue"
)

// QueueStats returns job counts for one queue.
func (c *Client) QueueStats(ctx context.Context, name string) (*queue.Stats, error) {
	var stats queue.Stats
	if err := c.do(ctx, http.MethodGet, "/v1/queues/"+url.PathEscape(name)+"/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ExpiredLeases lists jobs in the queue whose leases have lapsed.
func (c *Client) ExpiredLeases(ctx context.Context, name string, limit int) ([]*job.Job, error) {
	var jobs []*job.Job
	path := "/v1/queues/" + url.PathEscape(name) + "/expired"
	if err := c.do(ctx, http.MethodGet, path, limitQuery(limit, 0), nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// DeadLetters lists dead letter entries, newest filters first.
func (c *Client) DeadLetters(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	q := url.Values{}
	if opts.Queue != "" {
		q.Set("queue", opts.Queue)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var entries []*dlq.Entry
	if err := c.do(ctx, http.MethodGet, "/v1/dlq", q, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ResubmitDeadLetter re-escrows a dead letter entry's stake and reopens
// it as a fresh pending job. Submitter or admin only.
func (c *Client) ResubmitDeadLetter(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/dlq/"+entryID.String()+"/resubmit", nil, struct{}{}, &j); err != nil {
		return nil, err
	}
	return &j, nil
}
