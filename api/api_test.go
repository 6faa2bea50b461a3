package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/api"
	"github.com/xraph/renderq/api/httperr"
	"github.com/xraph/renderq/cron"
	"github.com/xraph/renderq/engine"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/store/memory"
	"github.com/xraph/renderq/webhook"
)

const waitFor = 3 * time.Second

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// ── Helpers ─────────────────────────────────────────

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() renderq.Config {
	cfg := renderq.DefaultConfig()
	cfg.Concurrency = 1
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.RetryJitter = 0
	cfg.ProgressInterval = 0
	cfg.CleanupInterval = 0
	return cfg
}

func newEngine(t *testing.T, e job.TaskExecutor) *engine.Engine {
	t.Helper()
	o, err := renderq.New(
		renderq.WithConfig(testConfig()),
		renderq.WithStore(memory.New()),
		renderq.WithLogger(discard()),
	)
	require.NoError(t, err)
	eng, err := engine.Build(o, engine.WithExecutor("", e))
	require.NoError(t, err)
	return eng
}

func start(t *testing.T, eng *engine.Engine) {
	t.Helper()
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = eng.Stop(ctx)
	})
}

func newServer(t *testing.T, eng *engine.Engine) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(api.New(eng, api.WithLogger(discard())).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func succeed(context.Context, []byte, job.ProgressFunc) error { return nil }

// do sends body as JSON and decodes a non-error response into out.
func do(t *testing.T, method, url string, body, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func submit(t *testing.T, ts *httptest.Server, req api.SubmitJobRequest) *api.JobResponse {
	t.Helper()
	var j api.JobResponse
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, ts.URL+"/v1/jobs", req, &j))
	return &j
}

// ── Jobs ────────────────────────────────────────────

func TestSubmitAndGetJob(t *testing.T) {
	ts := newServer(t, newEngine(t, job.ExecutorFunc(succeed)))

	created := submit(t, ts, api.SubmitJobRequest{
		Priority:    "high",
		Payload:     json.RawMessage(`{"scene":"intro","fps":30}`),
		MaxAttempts: 2,
		Timeout:     "90s",
	})
	assert.Equal(t, job.StateQueued, created.State)
	assert.Equal(t, job.PriorityHigh, created.Priority)
	assert.Equal(t, 2, created.MaxAttempts)
	assert.Equal(t, 90*time.Second, created.Timeout)

	var got api.JobResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/v1/jobs/"+created.ID.String(), nil, &got))
	assert.Equal(t, created.ID.String(), got.ID.String())
	assert.JSONEq(t, `{"scene":"intro","fps":30}`, string(got.Payload))
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	ts := newServer(t, newEngine(t, job.ExecutorFunc(succeed)))
	url := ts.URL + "/v1/jobs"

	tests := []struct {
		name string
		body any
	}{
		{"priority", api.SubmitJobRequest{Priority: "asap"}},
		{"timeout", api.SubmitJobRequest{Timeout: "soon"}},
		{"negative attempts", api.SubmitJobRequest{MaxAttempts: -1}},
		{"not json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, url, tt.body, nil))
		})
	}
}

func TestErrorBody(t *testing.T) {
	ts := newServer(t, newEngine(t, job.ExecutorFunc(succeed)))

	resp, err := http.Get(ts.URL + "/v1/jobs/" + id.NewJobID().String())
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(api.HeaderRequestID))

	var body httperr.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "get job", body.Error.Message)
	assert.NotNil(t, body.Detail)
}

func TestGetJobBadID(t *testing.T) {
	ts := newServer(t, newEngine(t, job.ExecutorFunc(succeed)))

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, ts.URL+"/v1/jobs/not-an-id", nil, nil))
	assert.Equal(t, http.StatusBadRequest,
		do(t, http.MethodGet, ts.URL+"/v1/jobs/"+id.NewDLQID().String(), nil, nil),
		"ids of another entity are rejected")
}

func TestCancelJob(t *testing.T) {
	ts := newServer(t, newEngine(t, job.ExecutorFunc(succeed)))
	j := submit(t, ts, api.SubmitJobRequest{})
	url := ts.URL + "/v1/jobs/" + j.ID.String() + "/cancel"

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodPost, url, nil, nil))
	assert.Equal(t, http.StatusConflict, do(t, http.MethodPost, url, nil, nil))

	var got api.JobResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/v1/jobs/"+j.ID.String(), nil, &got))
	assert.Equal(t, job.StateCancelled, got.State)
}

func TestListJobs(t *testing.T) {
	ts := newServer(t, newEngine(t, job.ExecutorFunc(succeed)))
	low := submit(t, ts, api.SubmitJobRequest{Priority: "low"})
	high := submit(t, ts, api.SubmitJobRequest{Priority: "high"})
	normal := submit(t, ts, api.SubmitJobRequest{})

	var jobs []*api.JobResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/v1/jobs?state=queued", nil, &jobs))
	require.Len(t, jobs, 3)
	assert.Equal(t, high.ID.String(), jobs[0].ID.String())
	assert.Equal(t, normal.ID.String(), jobs[1].ID.String())
	assert.Equal(t, low.ID.String(), jobs[2].ID.String())

	jobs = nil
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/v1/jobs?limit=1&offset=1", nil, &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, normal.ID.String(), jobs[0].ID.String())

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, ts.URL+"/v1/jobs?state=rendering", nil, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, ts.URL+"/v1/jobs?limit=-1", nil, nil))
}

// ── Queue, stats and health ─────────────────────────

func TestPauseResumeAndStats(t *testing.T) {
	ts := newServer(t, newEngine(t, job.ExecutorFunc(succeed)))
	submit(t, ts, api.SubmitJobRequest{})

	var q api.QueueResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/v1/queue/pause", nil, &q))
	assert.True(t, q.Paused)

	var stats api.StatsResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/v1/stats", nil, &stats))
	assert.True(t, stats.Paused)
	assert.EqualValues(t, 1, stats.Jobs[job.StateQueued])
	assert.Equal(t, 1, stats.Workers)

	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/v1/queue/resume", nil, &q))
	assert.False(t, q.Paused)
}

func TestMetricsAndHealth(t *testing.T) {
	eng := newEngine(t, job.ExecutorFunc(succeed))
	start(t, eng)
	ts := newServer(t, eng)

	j := submit(t, ts, api.SubmitJobRequest{})
	require.Eventually(t, func() bool {
		var got api.JobResponse
		return do(t, http.MethodGet, ts.URL+"/v1/jobs/"+j.ID.String(), nil, &got) == http.StatusOK &&
			got.State == job.StateCompleted
	}, waitFor, 10*time.Millisecond)

	var m api.MetricsResponse
	require.Eventually(t, func() bool {
		return do(t, http.MethodGet, ts.URL+"/v1/metrics", nil, &m) == http.StatusOK &&
			m.Counts[job.StateCompleted] == 1
	}, waitFor, 10*time.Millisecond)
	assert.InDelta(t, 1.0, m.SuccessRate, 1e-9)

	var h api.HealthResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/healthz", nil, &h))
	assert.Equal(t, "ok", h.Status)
}

func TestSchedules(t *testing.T) {
	eng := newEngine(t, job.ExecutorFunc(succeed))
	sched := cron.NewScheduler(eng.Submit, cron.WithLogger(discard()))
	require.NoError(t, sched.Add(cron.Entry{
		Name:     "nightly",
		Schedule: "@daily",
		Priority: job.PriorityLow,
		Payload:  []byte(`{"scene":"atrium"}`),
	}))

	ts := httptest.NewServer(api.New(eng, api.WithLogger(discard()), api.WithScheduler(sched)).Handler())
	t.Cleanup(ts.Close)

	var got []api.ScheduleResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/v1/schedules", nil, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "nightly", got[0].Name)
	assert.Equal(t, job.PriorityLow, got[0].Priority)
	assert.JSONEq(t, `{"scene":"atrium"}`, string(got[0].Payload))
	assert.False(t, got[0].NextRunAt.IsZero())

	// Without a scheduler the route answers an empty list.
	bare := newServer(t, eng)
	got = nil
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, bare.URL+"/v1/schedules", nil, &got))
	assert.Empty(t, got)
}

// ── Webhooks ────────────────────────────────────────

func TestWebhookRoutes(t *testing.T) {
	ts := newServer(t, newEngine(t, job.ExecutorFunc(succeed)))
	base := ts.URL + "/v1/webhooks"

	var created api.WebhookResponse
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, base, api.RegisterWebhookRequest{
		URL:    "http://127.0.0.1:9/hooks/render",
		Events: []string{"render.completed", "render.dead_lettered"},
	}, &created))
	assert.NotEmpty(t, created.Secret, "the secret is returned on creation")
	assert.Equal(t, webhook.CircuitClosed, created.CircuitState)
	subURL := base + "/" + created.ID.String()

	var list []api.WebhookResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, base, nil, &list))
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Secret)

	var got api.WebhookResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, subURL, nil, &got))
	assert.Empty(t, got.Secret)
	require.NotNil(t, got.Stats)
	assert.Zero(t, got.Stats.Total)

	var attempts []webhook.Attempt
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, subURL+"/attempts", nil, &attempts))
	assert.Empty(t, attempts)

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, subURL, nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, subURL, nil, nil))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodDelete, subURL, nil, nil))
}

func TestRegisterWebhookValidation(t *testing.T) {
	ts := newServer(t, newEngine(t, job.ExecutorFunc(succeed)))
	base := ts.URL + "/v1/webhooks"

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, base, api.RegisterWebhookRequest{}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, base, api.RegisterWebhookRequest{URL: "ftp://example.com"}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, base, api.RegisterWebhookRequest{
		URL:    "https://example.com/hook",
		Events: []string{"render.exploded"},
	}, nil))
}

// ── Dead letter queue ───────────────────────────────

func TestDLQRoutes(t *testing.T) {
	var calls atomic.Int32
	eng := newEngine(t, job.ExecutorFunc(func(context.Context, []byte, job.ProgressFunc) error {
		if calls.Add(1) == 1 {
			return errors.New("encoder crashed")
		}
		return nil
	}))
	start(t, eng)
	ts := newServer(t, eng)

	failed := submit(t, ts, api.SubmitJobRequest{MaxAttempts: 1, Payload: json.RawMessage(`{"scene":7}`)})

	var entries []*api.DLQEntryResponse
	require.Eventually(t, func() bool {
		entries = nil
		return do(t, http.MethodGet, ts.URL+"/v1/dlq", nil, &entries) == http.StatusOK && len(entries) == 1
	}, waitFor, 10*time.Millisecond)
	entry := entries[0]
	assert.Equal(t, failed.ID.String(), entry.JobID.String())
	assert.Equal(t, "encoder crashed", entry.Error)
	assert.JSONEq(t, `{"scene":7}`, string(entry.Payload))

	var got api.DLQEntryResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/v1/dlq/"+entry.ID.String(), nil, &got))
	assert.Equal(t, entry.ID.String(), got.ID.String())

	var replayed api.JobResponse
	require.Equal(t, http.StatusCreated, do(t, http.MethodPost, ts.URL+"/v1/dlq/"+entry.ID.String()+"/replay", nil, &replayed))
	assert.NotEqual(t, failed.ID.String(), replayed.ID.String())
	assert.JSONEq(t, `{"scene":7}`, string(replayed.Payload))

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, ts.URL+"/v1/dlq/purge", api.PurgeDLQRequest{}, nil))
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, ts.URL+"/v1/dlq/purge", api.PurgeDLQRequest{OlderThan: "a while"}, nil))

	var purged api.PurgeDLQResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/v1/dlq/purge", api.PurgeDLQRequest{OlderThan: "0s"}, &purged))
	assert.EqualValues(t, 1, purged.Purged)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/v1/dlq/"+entry.ID.String(), nil, nil))
}

// ── Event stream ────────────────────────────────────

func readEvents(t *testing.T, r *bufio.Reader, until string) []string {
	t.Helper()
	var names []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return names
		}
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			name = strings.TrimSpace(name)
			names = append(names, name)
			if name == until {
				return names
			}
		}
	}
}

func TestJobEventsStream(t *testing.T) {
	release := make(chan struct{})
	eng := newEngine(t, job.ExecutorFunc(func(ctx context.Context, _ []byte, progress job.ProgressFunc) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		progress(100, "mux")
		return nil
	}))
	start(t, eng)
	ts := newServer(t, eng)

	j := submit(t, ts, api.SubmitJobRequest{})

	resp, err := http.Get(ts.URL + "/v1/jobs/" + j.ID.String() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	r := bufio.NewReader(resp.Body)
	require.Equal(t, []string{api.SSESnapshot}, readEvents(t, r, api.SSESnapshot))

	close(release)
	names := readEvents(t, r, "render.completed")
	require.NotEmpty(t, names)
	assert.Equal(t, "render.completed", names[len(names)-1])

	// The server closes the stream after a terminal event.
	_, err = io.ReadAll(r)
	require.NoError(t, err)
}

func TestJobEventsUnknownJob(t *testing.T) {
	ts := newServer(t, newEngine(t, job.ExecutorFunc(succeed)))
	assert.Equal(t, http.StatusNotFound,
		do(t, http.MethodGet, ts.URL+"/v1/jobs/"+id.NewJobID().String()+"/events", nil, nil))
}
