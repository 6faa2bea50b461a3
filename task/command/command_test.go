package command_test

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/renderq/task/command"
)

type report struct {
	pct   int
	stage string
}

type progressLog struct {
	mu      sync.Mutex
	reports []report
}

func (p *progressLog) fn(pct int, stage string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, report{pct, stage})
}

func shell(t *testing.T, script string, opts ...command.Option) *command.Executor {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return command.New("sh", []string{"-c", script}, opts...)
}

func TestExecuteReportsProgress(t *testing.T) {
	e := shell(t, `cat >/dev/null
echo "progress 10 decode"
echo "frame 1 of 2"
echo "progress 60 encode h264"
printf "progress 100 mux"`)

	var log progressLog
	require.NoError(t, e.Execute(context.Background(), []byte(`{}`), log.fn))
	assert.Equal(t, []report{{10, "decode"}, {60, "encode h264"}, {100, "mux"}}, log.reports)
}

func TestExecuteWritesPayloadToStdin(t *testing.T) {
	e := shell(t, `test "$(cat)" = '{"scene":"intro"}'`)
	require.NoError(t, e.Execute(context.Background(), []byte(`{"scene":"intro"}`), nil))

	err := e.Execute(context.Background(), []byte(`{"scene":"outro"}`), nil)
	require.Error(t, err)
}

func TestExecuteFailureIncludesStderr(t *testing.T) {
	e := shell(t, `echo "codec not found" >&2; exit 3`)

	err := e.Execute(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "codec not found")
	assert.Contains(t, err.Error(), "exit status 3")
}

func TestExecuteCancel(t *testing.T) {
	e := shell(t, `exec sleep 10`, command.WithWaitDelay(100*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	err := e.Execute(ctx, nil, nil)
	assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecuteEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	e := shell(t, `test "$RENDER_PRESET" = "fast" && test "$(pwd -P)" = "$(cd "$EXPECTED" && pwd -P)"`,
		command.WithEnv("RENDER_PRESET=fast", "EXPECTED="+dir),
		command.WithDir(dir),
	)
	require.NoError(t, e.Execute(context.Background(), nil, nil))
}

func TestParse(t *testing.T) {
	_, err := command.Parse("   ")
	require.Error(t, err)

	e, err := command.Parse("sh -c true")
	require.NoError(t, err)
	require.NoError(t, e.Execute(context.Background(), nil, nil))
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line  string
		pct   int
		stage string
		ok    bool
	}{
		{"progress 42", 42, "", true},
		{"progress 42 encode", 42, "encode", true},
		{"  progress 7 two words  ", 7, "two words", true},
		{"progress abc", 0, "", false},
		{"progressive 10", 0, "", false},
		{"frame 10", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			pct, stage, ok := command.ParseProgress(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.pct, pct)
			assert.Equal(t, tt.stage, stage)
		})
	}
}
