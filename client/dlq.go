package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/api"
)

// DeadLetters lists dead-letter entries, most recent failure first.
func (c *Client) DeadLetters(ctx context.Context, limit, offset int) ([]*api.DLQEntryResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var entries []*api.DLQEntryResponse
	if err := c.do(ctx, http.MethodGet, "/v1/dlq", q, nil, &entries, nil); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeadLetter returns one entry.
func (c *Client) DeadLetter(ctx context.Context, entryID string) (*api.DLQEntryResponse, error) {
	var e api.DLQEntryResponse
	if err := c.do(ctx, http.MethodGet, "/v1/dlq/"+url.PathEscape(entryID), nil, nil, &e, renderq.ErrDLQNotFound); err != nil {
		return nil, err
	}
	return &e, nil
}

// Replay submits a fresh job from an entry.
func (c *Client) Replay(ctx context.Context, entryID string) (*api.JobResponse, error) {
	var j api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/v1/dlq/"+url.PathEscape(entryID)+"/replay", nil, nil, &j, renderq.ErrDLQNotFound); err != nil {
		return nil, err
	}
	return &j, nil
}

// PurgeDLQ removes entries that failed more than olderThan ago.
func (c *Client) PurgeDLQ(ctx context.Context, olderThan time.Duration) (int64, error) {
	var resp api.PurgeDLQResponse
	req := api.PurgeDLQRequest{OlderThan: olderThan.String()}
	if err := c.do(ctx, http.MethodPost, "/v1/dlq/purge", nil, req, &resp, nil); err != nil {
		return 0, err
	}
	return resp.Purged, nil
}
