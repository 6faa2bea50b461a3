package client

import (
	"context"
	"net/http"

	"github.com/xraph/renderq/api"
)

// Metrics returns the server's collector snapshot.
func (c *Client) Metrics(ctx context.Context) (*api.MetricsResponse, error) {
	var m api.MetricsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/metrics", nil, nil, &m, nil); err != nil {
		return nil, err
	}
	return &m, nil
}

// Stats returns store counts and pool usage.
func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var s api.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, nil, &s, nil); err != nil {
		return nil, err
	}
	return &s, nil
}

// Pause stops dispatching on the server.
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/queue/pause", nil, nil, nil, nil)
}

// Resume restarts dispatching on the server.
func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/queue/resume", nil, nil, nil, nil)
}

// Health pings the server and its store.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil, nil)
}

// Schedules returns the server's recurring submissions.
func (c *Client) Schedules(ctx context.Context) ([]api.ScheduleResponse, error) {
	var out []api.ScheduleResponse
	if err := c.do(ctx, http.MethodGet, "/v1/schedules", nil, nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}
