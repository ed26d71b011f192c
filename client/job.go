package client

import (
	"context"
	"net/http"
	"time"

	"github.com/taskfair/taskfair"
	"github.com/taskfair/taskfair/id"
	"github.com/taskfair/taskfair/job"
)

// Submit posts a job to the queue with the given stake. A zero
// visibility picks the server default lease duration.
func (c *Client) Submit(ctx context.Context, queue string, payload []byte, stake taskfair.Amount, visibility time.Duration) (*job.Job, error) {
	req := struct {
		Queue             string          `json:"queue"`
		Payload           []byte          `json:"payload"`
		Stake             taskfair.Amount `json:"stake"`
		VisibilityTimeout string          `json:"visibility_timeout,omitempty"`
	}{
		Queue:   queue,
		Payload: payload,
		Stake:   stake,
	}
	if visibility > 0 {
		req.VisibilityTimeout = visibility.String()
	}

	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", nil, req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// GetJob fetches a job by ID.
func (c *Client) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID.String(), nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// DeleteJob removes a terminal job. Only the submitter or an admin may
// delete, and only from a terminal state.
func (c *Client) DeleteJob(ctx context.Context, jobID id.JobID) error {
	return c.do(ctx, http.MethodDelete, "/v1/jobs/"+jobID.String(), nil, nil, nil)
}

// IsExpired reports whether the job currently holds a stale lease.
func (c *Client) IsExpired(ctx context.Context, jobID id.JobID) (bool, error) {
	var out map[string]bool
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID.String()+"/expired", nil, nil, &out); err != nil {
		return false, err
	}
	return out["expired"], nil
}

// Lease claims up to limit jobs from the queue for this client's
// identity. Redelivers jobs the identity already holds before claiming
// new ones.
func (c *Client) Lease(ctx context.Context, queue string, limit int) ([]*job.Job, error) {
	req := struct {
		Queue string `json:"queue"`
		Limit int    `json:"limit"`
	}{Queue: queue, Limit: limit}

	var jobs []*job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/lease", nil, req, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Complete lands a result on a leased job. The caller must hold the
// lease and the lease must not have expired.
func (c *Client) Complete(ctx context.Context, jobID id.JobID, result []byte) (*job.Job, error) {
	req := struct {
		Result []byte `json:"result"`
	}{Result: result}

	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID.String()+"/complete", nil, req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Verify accepts a completed result and settles the stake to the
// worker. Submitter only.
func (c *Client) Verify(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID.String()+"/verify", nil, struct{}{}, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Reject refuses a completed result and reopens the job. Submitter only.
func (c *Client) Reject(ctx context.Context, jobID id.JobID, reason string) (*job.Job, error) {
	return c.reasonPost(ctx, jobID, "reject", reason)
}

// Fail reports that the lease holder cannot finish the job. The job
// re-enters the queue or dead-letters once the retry budget runs out.
func (c *Client) Fail(ctx context.Context, jobID id.JobID, reason string) (*job.Job, error) {
	return c.reasonPost(ctx, jobID, "fail", reason)
}

// ReleaseExpired force-releases a stale lease. Anyone may call it; the
// server verifies the deadline has actually passed.
func (c *Client) ReleaseExpired(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID.String()+"/release", nil, struct{}{}, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// AdminRefund force-refunds a job's stake to the submitter. Admin only.
func (c *Client) AdminRefund(ctx context.Context, jobID id.JobID, reason string) (*job.Job, error) {
	return c.reasonPost(ctx, jobID, "refund", reason)
}

func (c *Client) reasonPost(ctx context.Context, jobID id.JobID, action, reason string) (*job.Job, error) {
	req := struct {
		Reason string `json:"reason"`
	}{Reason: reason}

	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID.String()+"/"+action, nil, req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}
