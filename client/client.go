// Package client is a Go client for the renderq HTTP API.
//
// Usage:
//
//	c, err := client.New("http://localhost:8080")
//
//	// Submit a render job.
//	j, err := c.Submit(ctx, scene, client.WithPriority(job.PriorityHigh))
//
//	// Follow it until it finishes.
//	events, err := c.Events(ctx, j.ID.String())
//	for evt := range events {
//	    fmt.Println(evt.Name)
//	}
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
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/api/httperr"
)

// DefaultTimeout bounds each non-streaming request.
const DefaultTimeout = 30 * time.Second

// Client talks to a renderq server.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger
	headers http.Header
	timeout time.Duration
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "renderq/client: parse %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Newf("renderq/client: %q must be an http or https url", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{},
		logger:  slog.Default(),
		headers: make(http.Header),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx response. Not-found and conflict responses are
// also marked with the matching renderq sentinel, so renderq.IsNotFound and
// renderq.IsConflict work on them.
type APIError struct {
	Status    int
	Message   string
	Detail    string
	RequestID string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("renderq/client: %d %s", e.Status, e.Message)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path += path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "renderq/client: marshal request")
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), r)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/client: build request")
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends one request and decodes a 2xx body into out. notFound marks
// 404 responses.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, notFound error) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "renderq/client: %s %s", method, path)
	}
	defer resp.Body.Close()

	c.logger.Debug("renderq request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp, notFound)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "renderq/client: decode %s %s", method, path)
	}
	return nil
}

func decodeError(resp *http.Response, notFound error) error {
	apiErr := &APIError{
		Status:    resp.StatusCode,
		Message:   http.StatusText(resp.StatusCode),
		RequestID: resp.Header.Get("X-Request-ID"),
	}

	var body httperr.Response
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		if s, ok := body.Detail.(string); ok {
			apiErr.Detail = s
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && notFound != nil:
		return errors.Mark(apiErr, notFound)
	case resp.StatusCode == http.StatusConflict:
		return errors.Mark(apiErr, renderq.ErrConflict)
	}
	return apiErr
}
