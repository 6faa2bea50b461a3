package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/api"
	"github.com/xraph/renderq/engine"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/store/memory"
)

func newDaemon(t *testing.T) (*engine.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := renderq.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.CleanupInterval = 0
	o, err := renderq.New(
		renderq.WithConfig(cfg),
		renderq.WithStore(memory.New()),
		renderq.WithLogger(logger),
	)
	require.NoError(t, err)
	eng, err := engine.Build(o, engine.WithExecutor("", job.ExecutorFunc(
		func(context.Context, []byte, job.ProgressFunc) error { return nil },
	)))
	require.NoError(t, err)

	ts := httptest.NewServer(api.New(eng, api.WithLogger(logger)).Handler())
	t.Cleanup(ts.Close)
	return eng, ts.URL
}

func run(t *testing.T, server string, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSubmitStatusCancel(t *testing.T) {
	eng, server := newDaemon(t)

	out, err := run(t, server, "", "submit", "--priority", "high", `{"scene":"intro"}`)
	require.NoError(t, err)
	var submitted api.JobResponse
	require.NoError(t, json.Unmarshal([]byte(out), &submitted))
	assert.Equal(t, job.PriorityHigh, submitted.Priority)
	assert.JSONEq(t, `{"scene":"intro"}`, string(submitted.Payload))

	out, err = run(t, server, "", "status", submitted.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, submitted.ID.String())

	_, err = run(t, server, "", "cancel", submitted.ID.String())
	require.NoError(t, err)
	j, err := eng.Status(context.Background(), submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCancelled, j.State)

	_, err = run(t, server, "", "cancel", submitted.ID.String())
	assert.True(t, renderq.IsConflict(err), "second cancel conflicts: %v", err)
}

func TestSubmitFromStdin(t *testing.T) {
	_, server := newDaemon(t)

	out, err := run(t, server, `{"frames":[1,2]}`, "submit", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"frames"`)

	_, err = run(t, server, "not json", "submit", "-")
	require.Error(t, err)

	_, err = run(t, server, "", "submit", "--priority", "urgent", "{}")
	assert.True(t, renderq.IsValidation(err))
}

func TestListAndQueueCommands(t *testing.T) {
	_, server := newDaemon(t)

	for _, p := range []string{"low", "high"} {
		_, err := run(t, server, "", "submit", "--priority", p, "{}")
		require.NoError(t, err)
	}

	out, err := run(t, server, "", "list")
	require.NoError(t, err)
	var jobs []api.JobResponse
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, job.PriorityHigh, jobs[0].Priority)

	out, err = run(t, server, "", "queue", "pause")
	require.NoError(t, err)
	assert.Equal(t, "dispatch paused\n", out)

	out, err = run(t, server, "", "queue", "stats")
	require.NoError(t, err)
	var stats api.StatsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.True(t, stats.Paused)
	assert.EqualValues(t, 2, stats.Jobs[job.StateQueued])

	out, err = run(t, server, "", "queue", "health")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	out, err = run(t, server, "", "queue", "schedules")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestWebhookCommands(t *testing.T) {
	_, server := newDaemon(t)

	out, err := run(t, server, "", "webhook", "add", "https://example.com/hook",
		"--event", "render.completed", "--header", "X-Team=render")
	require.NoError(t, err)
	var sub api.WebhookResponse
	require.NoError(t, json.Unmarshal([]byte(out), &sub))
	assert.NotEmpty(t, sub.Secret)
	assert.Equal(t, "render", sub.Headers["X-Team"])

	out, err = run(t, server, "", "webhook", "list")
	require.NoError(t, err)
	assert.Contains(t, out, sub.ID.String())

	_, err = run(t, server, "", "webhook", "rm", sub.ID.String())
	require.NoError(t, err)

	_, err = run(t, server, "", "webhook", "add", "https://example.com", "--header", "broken")
	require.Error(t, err)
}
