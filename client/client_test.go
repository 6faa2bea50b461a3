package client_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/api"
	"github.com/xraph/renderq/client"
	"github.com/xraph/renderq/engine"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/store/memory"
)

// ── Test Helpers ──────────────────────────────────────

type scene struct {
	Name   string `json:"name"`
	Frames int    `json:"frames"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupClientTest builds an engine on a memory store, serves the API on an
// httptest server and returns a client pointed at it. The engine is not
// started unless run is true.
func setupClientTest(t *testing.T, run bool, opts ...engine.Option) (*client.Client, *engine.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := renderq.DefaultConfig()
	cfg.Concurrency = 1
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.RetryJitter = 0
	cfg.ProgressInterval = 0
	cfg.CleanupInterval = 0

	o, err := renderq.New(
		renderq.WithConfig(cfg),
		renderq.WithStore(memory.New()),
		renderq.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("renderq.New: %v", err)
	}
	eng, err := engine.Build(o, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	if run {
		if err := eng.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = eng.Stop(ctx)
		})
	}

	ts := httptest.NewServer(api.New(eng, api.WithLogger(testLogger())).Handler())
	t.Cleanup(ts.Close)

	c, err := client.New(ts.URL, client.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c, eng
}

func registerScene(eng *engine.Engine, fn func(context.Context, scene, job.ProgressFunc) error) {
	engine.Register(eng, job.NewDefinition("scene", fn))
}

func waitJob(t *testing.T, c *client.Client, jobID string, want job.State) *api.JobResponse {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		j, err := c.Job(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Job: %v", err)
		}
		if j.State == want {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return nil
}

// ── Construction ──────────────────────────────────────

func TestClient_NewRejectsBadURL(t *testing.T) {
	if _, err := client.New("ftp://example.com"); err == nil {
		t.Fatal("expected error for non-http url")
	}
}

// ── Job Tests ─────────────────────────────────────────

func TestClient_SubmitAndGet(t *testing.T) {
	c, eng := setupClientTest(t, false)
	registerScene(eng, func(context.Context, scene, job.ProgressFunc) error { return nil })

	j, err := c.Submit(context.Background(), scene{Name: "intro", Frames: 240},
		client.WithKind("scene"),
		client.WithPriority(job.PriorityUrgent),
		client.WithMaxAttempts(4),
		client.WithJobTimeout(2*time.Minute),
	)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if j.State != job.StateQueued {
		t.Errorf("state = %s, want queued", j.State)
	}
	if j.Priority != job.PriorityUrgent {
		t.Errorf("priority = %s, want urgent", j.Priority)
	}
	if j.MaxAttempts != 4 {
		t.Errorf("max_attempts = %d, want 4", j.MaxAttempts)
	}
	if j.Timeout != 2*time.Minute {
		t.Errorf("timeout = %s, want 2m", j.Timeout)
	}

	got, err := c.Job(context.Background(), j.ID.String())
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	var s scene
	if err := json.Unmarshal(got.Payload, &s); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if s.Name != "intro" || s.Frames != 240 {
		t.Errorf("payload = %+v", s)
	}

	jobs, err := c.Jobs(context.Background(), job.StateQueued, 10, 0)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("len(jobs) = %d, want 1", len(jobs))
	}
}

func TestClient_SubmitValidation(t *testing.T) {
	c, _ := setupClientTest(t, false)

	_, err := c.Submit(context.Background(), scene{}, client.WithKind("scene"))
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *client.APIError", err)
	}
	if apiErr.Status != 400 {
		t.Errorf("status = %d, want 400", apiErr.Status)
	}
	if apiErr.RequestID == "" {
		t.Error("expected request id on error")
	}
}

func TestClient_NotFoundAndConflict(t *testing.T) {
	c, eng := setupClientTest(t, false)
	registerScene(eng, func(context.Context, scene, job.ProgressFunc) error { return nil })
	ctx := context.Background()

	_, err := c.Job(ctx, id.NewJobID().String())
	if !renderq.IsNotFound(err) || !errors.Is(err, renderq.ErrJobNotFound) {
		t.Errorf("Job(unknown) = %v, want ErrJobNotFound", err)
	}

	j, err := c.Submit(ctx, scene{Name: "outro"}, client.WithKind("scene"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := c.Cancel(ctx, j.ID.String()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := c.Cancel(ctx, j.ID.String()); !renderq.IsConflict(err) {
		t.Errorf("second Cancel = %v, want conflict", err)
	}
}

func TestClient_Events(t *testing.T) {
	release := make(chan struct{})
	c, eng := setupClientTest(t, true)
	registerScene(eng, func(ctx context.Context, _ scene, progress job.ProgressFunc) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		progress(50, "encode")
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	j, err := c.Submit(ctx, scene{Name: "credits"}, client.WithKind("scene"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	events, err := c.Events(ctx, j.ID.String())
	if err != nil {
		t.Fatalf("Events: %v", err)
	}

	first, ok := <-events
	if !ok {
		t.Fatal("stream closed before snapshot")
	}
	if first.Name != api.SSESnapshot {
		t.Fatalf("first event = %q, want snapshot", first.Name)
	}
	snap, err := first.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.ID.String() != j.ID.String() {
		t.Errorf("snapshot id = %s, want %s", snap.ID, j.ID)
	}

	close(release)

	var last *client.Event
	for evt := range events {
		last = evt
	}
	if last == nil || last.Name != "render.completed" {
		t.Fatalf("last event = %+v, want render.completed", last)
	}
	se, err := last.Stream()
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if se.Topic != "job:"+j.ID.String() {
		t.Errorf("topic = %q", se.Topic)
	}
}

// ── Queue Tests ───────────────────────────────────────

func TestClient_PauseStatsMetrics(t *testing.T) {
	c, _ := setupClientTest(t, false)
	ctx := context.Background()

	if err := c.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !stats.Paused {
		t.Error("expected paused")
	}
	if err := c.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if _, err := c.Metrics(ctx); err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
}

// ── Webhook Tests ─────────────────────────────────────

func TestClient_Webhooks(t *testing.T) {
	c, _ := setupClientTest(t, false)
	ctx := context.Background()

	sub, err := c.RegisterWebhook(ctx, api.RegisterWebhookRequest{
		URL:    "https://hooks.example.com/render",
		Secret: "s3cret",
	})
	if err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}
	if sub.Secret != "s3cret" {
		t.Errorf("secret = %q, want s3cret", sub.Secret)
	}

	subs, err := c.Webhooks(ctx)
	if err != nil {
		t.Fatalf("Webhooks: %v", err)
	}
	if len(subs) != 1 || subs[0].Secret != "" {
		t.Fatalf("Webhooks = %+v, want one redacted subscription", subs)
	}

	got, err := c.Webhook(ctx, sub.ID.String())
	if err != nil {
		t.Fatalf("Webhook: %v", err)
	}
	if got.Stats == nil {
		t.Error("expected stats")
	}
	if _, err := c.WebhookAttempts(ctx, sub.ID.String()); err != nil {
		t.Fatalf("WebhookAttempts: %v", err)
	}

	if err := c.UnregisterWebhook(ctx, sub.ID.String()); err != nil {
		t.Fatalf("UnregisterWebhook: %v", err)
	}
	if _, err := c.Webhook(ctx, sub.ID.String()); !errors.Is(err, renderq.ErrSubscriptionNotFound) {
		t.Errorf("Webhook after delete = %v, want ErrSubscriptionNotFound", err)
	}
}

// ── DLQ Tests ─────────────────────────────────────────

func TestClient_DeadLetterReplay(t *testing.T) {
	c, eng := setupClientTest(t, true)
	var calls atomic.Int32
	registerScene(eng, func(context.Context, scene, job.ProgressFunc) error {
		if calls.Add(1) == 1 {
			return errors.New("out of GPU memory")
		}
		return nil
	})
	ctx := context.Background()

	j, err := c.Submit(ctx, scene{Name: "trailer"}, client.WithKind("scene"), client.WithMaxAttempts(1))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitJob(t, c, j.ID.String(), job.StateDeadLettered)

	var entries []*api.DLQEntryResponse
	deadline := time.Now().Add(3 * time.Second)
	for len(entries) == 0 && time.Now().Before(deadline) {
		if entries, err = c.DeadLetters(ctx, 0, 0); err != nil {
			t.Fatalf("DeadLetters: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if _, err := c.DeadLetter(ctx, entries[0].ID.String()); err != nil {
		t.Fatalf("DeadLetter: %v", err)
	}

	replayed, err := c.Replay(ctx, entries[0].ID.String())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	waitJob(t, c, replayed.ID.String(), job.StateCompleted)

	n, err := c.PurgeDLQ(ctx, 0)
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if _, err := c.DeadLetter(ctx, entries[0].ID.String()); !renderq.IsNotFound(err) {
		t.Errorf("DeadLetter after purge = %v, want not found", err)
	}
}
