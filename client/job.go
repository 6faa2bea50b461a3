package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/api"
	"github.com/xraph/renderq/job"
)

// SubmitOption configures a submission.
type SubmitOption func(*api.SubmitJobRequest)

// WithKind selects the task executor.
func WithKind(kind string) SubmitOption {
	return func(r *api.SubmitJobRequest) { r.Kind = kind }
}

// WithPriority sets the dispatch tier.
func WithPriority(p job.Priority) SubmitOption {
	return func(r *api.SubmitJobRequest) { r.Priority = p.String() }
}

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) SubmitOption {
	return func(r *api.SubmitJobRequest) { r.MaxAttempts = n }
}

// WithJobTimeout sets the per-attempt deadline.
func WithJobTimeout(d time.Duration) SubmitOption {
	return func(r *api.SubmitJobRequest) { r.Timeout = d.String() }
}

// WithRunAt delays the first dispatch.
func WithRunAt(t time.Time) SubmitOption {
	return func(r *api.SubmitJobRequest) { r.RunAt = &t }
}

// Submit JSON-encodes payload and submits a render job. A json.RawMessage
// payload is sent as is.
func (c *Client) Submit(ctx context.Context, payload any, opts ...SubmitOption) (*api.JobResponse, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok && payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			return nil, errors.Wrap(err, "renderq/client: marshal payload")
		}
	}

	req := api.SubmitJobRequest{Payload: raw}
	for _, opt := range opts {
		opt(&req)
	}

	var j api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", nil, req, &j, nil); err != nil {
		return nil, err
	}
	return &j, nil
}

// Job returns the current state of a job.
func (c *Client) Job(ctx context.Context, jobID string) (*api.JobResponse, error) {
	var j api.JobResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, nil, &j, renderq.ErrJobNotFound); err != nil {
		return nil, err
	}
	return &j, nil
}

// Jobs lists jobs in state in dispatch order. A zero limit uses the server
// default.
func (c *Client) Jobs(ctx context.Context, state job.State, limit, offset int) ([]*api.JobResponse, error) {
	q := url.Values{"state": {string(state)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var jobs []*api.JobResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs", q, nil, &jobs, nil); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Cancel cancels a queued or active job. Cancelling a terminal job fails
// with an error matching renderq.ErrConflict.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil, nil, renderq.ErrJobNotFound)
}
