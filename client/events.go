package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/api"
	"github.com/xraph/renderq/stream"
)

// Event is one Server-Sent Event of a job stream.
type Event struct {
	// Name is api.SSESnapshot for the first frame, otherwise the
	// transition or progress type such as "render.started".
	Name string
	Data json.RawMessage
}

// Snapshot decodes a snapshot frame.
func (e *Event) Snapshot() (*api.JobResponse, error) {
	var j api.JobResponse
	if err := json.Unmarshal(e.Data, &j); err != nil {
		return nil, errors.Wrap(err, "renderq/client: decode snapshot")
	}
	return &j, nil
}

// Stream decodes a transition or progress frame.
func (e *Event) Stream() (*stream.Event, error) {
	var evt stream.Event
	if err := json.Unmarshal(e.Data, &evt); err != nil {
		return nil, errors.Wrap(err, "renderq/client: decode event")
	}
	return &evt, nil
}

// Events follows a job. The channel yields a snapshot first, then every
// transition and progress report, and is closed after a terminal
// transition, on ctx cancellation or when the connection drops.
func (c *Client) Events(ctx context.Context, jobID string) (<-chan *Event, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/events", nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/client: open event stream")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp, renderq.ErrJobNotFound)
	}

	ch := make(chan *Event, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		if err := readSSE(ctx, bufio.NewReader(resp.Body), ch); err != nil && ctx.Err() == nil {
			c.logger.Warn("renderq event stream ended",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return ch, nil
}

// readSSE parses frames until EOF. Comment lines are keep-alives.
func readSSE(ctx context.Context, r *bufio.Reader, ch chan<- *Event) error {
	var (
		name string
		data strings.Builder
	)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if name == "" && data.Len() == 0 {
				continue
			}
			evt := &Event{Name: name, Data: json.RawMessage(data.String())}
			name = ""
			data.Reset()
			select {
			case ch <- evt:
			case <-ctx.Done():
				return ctx.Err()
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
