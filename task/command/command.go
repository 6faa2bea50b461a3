package command

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq/job"
)

var _ job.TaskExecutor = (*Executor)(nil)

// DefaultWaitDelay is how long a cancelled process has to exit after
// SIGINT before it is killed.
const DefaultWaitDelay = 5 * time.Second

const (
	maxLine    = 64 << 10
	stderrTail = 4 << 10
)

// Executor runs one process per attempt.
type Executor struct {
	path      string
	args      []string
	dir       string
	env       []string
	waitDelay time.Duration
	logger    *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithDir sets the working directory.
func WithDir(dir string) Option {
	return func(e *Executor) { e.dir = dir }
}

// WithEnv appends KEY=value pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(e *Executor) { e.env = append(e.env, env...) }
}

// WithWaitDelay sets the SIGINT-to-kill delay.
func WithWaitDelay(d time.Duration) Option {
	return func(e *Executor) { e.waitDelay = d }
}

// WithLogger sets the logger for the program's non-progress output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor for path with fixed arguments.
func New(path string, args []string, opts ...Option) *Executor {
	e := &Executor{
		path:      path,
		args:      args,
		waitDelay: DefaultWaitDelay,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Parse splits a command line on whitespace. Quoting is not supported.
func Parse(cmdline string, opts ...Option) (*Executor, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil, errors.New("command: empty command line")
	}
	return New(fields[0], fields[1:], opts...), nil
}

// Execute implements job.TaskExecutor.
func (e *Executor) Execute(ctx context.Context, payload []byte, progress job.ProgressFunc) error {
	cmd := exec.CommandContext(ctx, e.path, e.args...)
	cmd.Dir = e.dir
	if len(e.env) > 0 {
		cmd.Env = append(os.Environ(), e.env...)
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = e.waitDelay
	cmd.Stdin = bytes.NewReader(payload)

	stdout := &lineWriter{fn: func(line string) {
		if pct, stage, ok := ParseProgress(line); ok {
			if progress != nil {
				progress(pct, stage)
			}
			return
		}
		e.logger.Debug("command output", slog.String("command", e.path), slog.String("line", line))
	}}
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "command: start %s", e.path)
	}
	err := cmd.Wait()
	stdout.flush()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return errors.Wrapf(err, "command: %s: %s", e.path, msg)
		}
		return errors.Wrapf(err, "command: %s", e.path)
	}
	return nil
}

// ParseProgress parses a "progress <percent> [stage]" line.
func ParseProgress(line string) (int, string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), "progress ")
	if !ok {
		return 0, "", false
	}
	num, stage, _ := strings.Cut(strings.TrimSpace(rest), " ")
	pct, err := strconv.Atoi(num)
	if err != nil {
		return 0, "", false
	}
	return pct, strings.TrimSpace(stage), true
}

// lineWriter calls fn for every complete line written to it. Lines longer
// than maxLine are truncated.
type lineWriter struct {
	mu  sync.Mutex
	buf []byte
	fn  func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buf = appendCapped(w.buf, p)
			break
		}
		w.buf = appendCapped(w.buf, p[:i])
		w.fn(strings.TrimRight(string(w.buf), "\r"))
		w.buf = w.buf[:0]
		p = p[i+1:]
	}
	return n, nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.fn(strings.TrimRight(string(w.buf), "\r"))
		w.buf = w.buf[:0]
	}
}

func appendCapped(buf, p []byte) []byte {
	if room := maxLine - len(buf); len(p) > room {
		p = p[:max(room, 0)]
	}
	return append(buf, p...)
}

// tailBuffer keeps the last max bytes written.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
