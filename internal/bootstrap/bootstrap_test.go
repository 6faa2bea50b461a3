package bootstrap

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/xraph/renderq/cron"
	"github.com/xraph/renderq/engine"
	"github.com/xraph/renderq/internal/config"
	"github.com/xraph/renderq/job"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.Mode = "test"
	cfg.Log.Level = "error"
	cfg.Store.Driver = config.DriverMemory
	cfg.Store.DSN = ""
	cfg.Queue.PollInterval = 10 * time.Millisecond
	cfg.Executor.Commands = map[string]string{
		config.DefaultKind: "cat",
		"fail":             "false",
	}
	cfg.Schedules = []config.ScheduleConfig{
		{Name: "nightly", Schedule: "@daily", Payload: `{"scene":"catalog"}`},
	}
	return cfg
}

func TestValidateApp(t *testing.T) {
	require.NoError(t, fx.ValidateApp(
		fx.Supply(testConfig()),
		Module,
		fx.NopLogger,
	))
}

func TestAppRunsCommandJobs(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.DefaultMaxAttempts = 1

	var (
		eng   *engine.Engine
		srv   *http.Server
		sched *cron.Scheduler
	)
	app := New(cfg, fx.NopLogger, fx.Populate(&eng, &srv, &sched))
	require.NoError(t, app.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))
	defer func() { require.NoError(t, app.Stop(ctx)) }()

	ok, err := eng.Submit(ctx, []byte(`{"scene":"a"}`))
	require.NoError(t, err)
	bad, err := eng.Submit(ctx, nil, job.WithKind("fail"))
	require.NoError(t, err)

	waitState := func(j *job.Job, want job.State) {
		t.Helper()
		assert.Eventually(t, func() bool {
			got, err := eng.Status(ctx, j.ID)
			return err == nil && got.State == want
		}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", j.ID, want)
	}
	waitState(ok, job.StateCompleted)
	waitState(bad, job.StateDeadLettered)

	entries := sched.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "nightly", entries[0].Name)
	assert.Zero(t, sched.Tick(ctx), "nothing due at start")
	assert.Equal(t, cfg.Server.Addr, srv.Addr)
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	_, _, err := OpenStore(context.Background(), config.StoreConfig{Driver: "cassandra"}, nil)
	require.Error(t, err)
}

func TestCommandExecutorsRejectsEmptyCommand(t *testing.T) {
	cfg := testConfig()
	_, err := commandExecutors(config.ExecutorConfig{
		Commands: map[string]string{"scene": "  "},
	}, NewLogger(cfg))
	require.Error(t, err)
}
