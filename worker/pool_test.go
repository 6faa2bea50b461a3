package worker_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/renderq/backoff"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/ext"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/middleware"
	"github.com/xraph/renderq/queue"
	"github.com/xraph/renderq/retry"
	"github.com/xraph/renderq/store/memory"
	"github.com/xraph/renderq/store/storetest"
	"github.com/xraph/renderq/worker"
)

const waitFor = 3 * time.Second

// recorder captures every event the executor publishes.
type recorder struct {
	mu          sync.Mutex
	transitions []event.Transition
	progress    []event.Progress
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnJobTransition(_ context.Context, t event.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
	return nil
}

func (r *recorder) OnJobProgress(_ context.Context, p event.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
	return nil
}

func (r *recorder) types(jobID id.JobID) []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Type
	for _, t := range r.transitions {
		if t.JobID.String() == jobID.String() {
			out = append(out, t.Type())
		}
	}
	return out
}

func (r *recorder) progressFor(jobID id.JobID) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, p := range r.progress {
		if p.JobID.String() == jobID.String() {
			out = append(out, p.Percent)
		}
	}
	return out
}

type harness struct {
	store      *memory.Store
	registry   *job.Registry
	extensions *ext.Registry
	dispatcher *queue.Dispatcher
	pool       *worker.Pool
	recorder   *recorder
}

func newHarness(t *testing.T, opts ...worker.PoolOption) *harness {
	t.Helper()
	return newHarnessWithStore(t, nil, opts...)
}

// newHarnessWithStore hands the pool wrap(store) instead of the memory
// store itself.
func newHarnessWithStore(t *testing.T, wrap func(*memory.Store) job.Store, opts ...worker.PoolOption) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := memory.New()
	reg := job.NewRegistry()
	rec := &recorder{}
	extensions := ext.NewRegistry(logger)
	extensions.Register(rec)

	executor := worker.NewExecutor(
		reg, extensions, s,
		dlq.NewService(s, nil),
		retry.NewPolicy(backoff.NewConstant(5*time.Millisecond)),
		logger,
		middleware.Recover(logger),
		middleware.Timeout(logger),
	)
	executor.SetProgressInterval(time.Hour)

	dispatcher := queue.NewDispatcher(s,
		queue.WithPollInterval(20*time.Millisecond),
		queue.WithLogger(logger),
	)

	opts = append([]worker.PoolOption{
		worker.WithConcurrency(1),
		worker.WithCancelGracePeriod(50 * time.Millisecond),
	}, opts...)
	var poolStore job.Store = s
	if wrap != nil {
		poolStore = wrap(s)
	}
	pool := worker.NewPool(poolStore, dispatcher, executor, logger, opts...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	return &harness{store: s, registry: reg, extensions: extensions, dispatcher: dispatcher, pool: pool, recorder: rec}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.pool.Start(context.Background()))
}

func (h *harness) submit(t *testing.T, p job.Priority, mods ...func(*job.Job)) *job.Job {
	t.Helper()
	j := storetest.NewJob(p)
	for _, mod := range mods {
		mod(j)
	}
	require.NoError(t, h.store.EnqueueJob(context.Background(), j))
	h.dispatcher.Wake()
	return j
}

func (h *harness) waitState(t *testing.T, jobID id.JobID, want job.State) *job.Job {
	t.Helper()
	var got *job.Job
	require.Eventually(t, func() bool {
		j, err := h.store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		got = j
		return j.State == want
	}, waitFor, 5*time.Millisecond, "job %s never reached %s", jobID, want)
	return got
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestPool_StartStop(t *testing.T) {
	h := newHarness(t, worker.WithConcurrency(2))

	require.NoError(t, h.pool.Start(context.Background()))
	// Double start is a no-op.
	require.NoError(t, h.pool.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.pool.Stop(ctx))
	// Double stop is a no-op.
	require.NoError(t, h.pool.Stop(ctx))
}

func TestPool_CompletesJob(t *testing.T) {
	h := newHarness(t)

	var payload atomic.Value
	h.registry.Register("", job.ExecutorFunc(func(_ context.Context, p []byte, progress job.ProgressFunc) error {
		payload.Store(string(p))
		progress(50, "rendering")
		return nil
	}))
	h.start(t)

	j := h.submit(t, job.PriorityNormal)
	done := h.waitState(t, j.ID, job.StateCompleted)

	assert.Equal(t, `{"scene":"intro"}`, payload.Load())
	assert.Equal(t, 1, done.Attempt)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, "rendering", done.Stage)
	assert.Empty(t, done.LastError)
	assert.Equal(t, []event.Type{event.TypeStarted, event.TypeCompleted}, h.recorder.types(j.ID))
	assert.Equal(t, 0, h.pool.ActiveCount())
}

func TestPool_UnknownKindFails(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	j := h.submit(t, job.PriorityNormal, func(j *job.Job) { j.MaxAttempts = 1 })
	dead := h.waitState(t, j.ID, job.StateDeadLettered)
	assert.Contains(t, dead.LastError, "no task executor")
}

// ──────────────────────────────────────────────────
// Retry and dead letter
// ──────────────────────────────────────────────────

func TestPool_RetriesThenDeadLetters(t *testing.T) {
	h := newHarness(t)

	var calls atomic.Int32
	h.registry.Register("", job.ExecutorFunc(func(context.Context, []byte, job.ProgressFunc) error {
		calls.Add(1)
		return assert.AnError
	}))
	h.start(t)

	j := h.submit(t, job.PriorityNormal)
	dead := h.waitState(t, j.ID, job.StateDeadLettered)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, dead.Attempt)
	assert.Equal(t, assert.AnError.Error(), dead.LastError)

	entries, err := h.store.ListDLQ(context.Background(), dlq.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, j.ID.String(), entries[0].JobID.String())
	assert.Equal(t, 3, entries[0].Attempt)

	assert.Equal(t, []event.Type{
		event.TypeStarted, event.TypeFailed, event.TypeRetrying,
		event.TypeStarted, event.TypeFailed, event.TypeRetrying,
		event.TypeStarted, event.TypeFailed, event.TypeDeadLettered,
	}, h.recorder.types(j.ID))
}

func TestPool_RecoversPanics(t *testing.T) {
	h := newHarness(t)

	var calls atomic.Int32
	h.registry.Register("", job.ExecutorFunc(func(context.Context, []byte, job.ProgressFunc) error {
		if calls.Add(1) == 1 {
			panic("encoder crashed")
		}
		return nil
	}))
	h.start(t)

	j := h.submit(t, job.PriorityNormal)
	done := h.waitState(t, j.ID, job.StateCompleted)
	assert.Equal(t, 2, done.Attempt)
}

func TestPool_PerJobTimeoutIsExecutionFailure(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("", job.ExecutorFunc(func(ctx context.Context, _ []byte, _ job.ProgressFunc) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	h.start(t)

	j := h.submit(t, job.PriorityNormal, func(j *job.Job) {
		j.MaxAttempts = 1
		j.Timeout = 20 * time.Millisecond
	})
	dead := h.waitState(t, j.ID, job.StateDeadLettered)
	assert.Contains(t, dead.LastError, "timed out")
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

func TestPool_AbortCooperativeTask(t *testing.T) {
	h := newHarness(t)

	started := make(chan struct{}, 1)
	h.registry.Register("", job.ExecutorFunc(func(ctx context.Context, _ []byte, _ job.ProgressFunc) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}))
	h.start(t)

	j := h.submit(t, job.PriorityNormal)
	<-started

	cancelled, err := h.store.CancelJob(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StateCancelled, cancelled.State)
	assert.True(t, h.pool.Abort(j.ID))

	require.Eventually(t, func() bool { return h.pool.ActiveCount() == 0 }, waitFor, 5*time.Millisecond)

	// The late task error must not overwrite the cancel.
	got, err := h.store.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCancelled, got.State)
	assert.Equal(t, 1, got.Attempt)
}

func TestPool_AbortReclaimsSlotAfterGrace(t *testing.T) {
	h := newHarness(t, worker.WithCancelGracePeriod(30*time.Millisecond))

	release := make(chan struct{})
	defer close(release)

	var first atomic.Bool
	first.Store(true)
	started := make(chan struct{}, 1)
	h.registry.Register("", job.ExecutorFunc(func(context.Context, []byte, job.ProgressFunc) error {
		if first.CompareAndSwap(true, false) {
			started <- struct{}{}
			<-release // ignores cancellation
		}
		return nil
	}))
	h.start(t)

	stuck := h.submit(t, job.PriorityNormal)
	<-started
	_, err := h.store.CancelJob(context.Background(), stuck.ID)
	require.NoError(t, err)
	h.pool.Abort(stuck.ID)

	// Capacity is 1, so the next job only runs once the slot is reclaimed.
	next := h.submit(t, job.PriorityNormal)
	h.waitState(t, next.ID, job.StateCompleted)

	got, err := h.store.GetJob(context.Background(), stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCancelled, got.State)
}

func TestPool_HardTimeoutCancels(t *testing.T) {
	h := newHarness(t, worker.WithHardTimeout(40*time.Millisecond))
	h.registry.Register("", job.ExecutorFunc(func(ctx context.Context, _ []byte, _ job.ProgressFunc) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	h.start(t)

	j := h.submit(t, job.PriorityNormal)
	cancelled := h.waitState(t, j.ID, job.StateCancelled)
	assert.True(t, strings.Contains(cancelled.LastError, "hard timeout"), cancelled.LastError)
	assert.Contains(t, h.recorder.types(j.ID), event.TypeCancelled)
}

// cancelOnStart cancels a job as soon as its dispatch is published.
type cancelOnStart struct {
	cancel func(context.Context, id.JobID)
}

func (c *cancelOnStart) Name() string { return "cancel-on-start" }

func (c *cancelOnStart) OnJobTransition(ctx context.Context, t event.Transition) error {
	if t.To == job.StateActive {
		c.cancel(ctx, t.JobID)
	}
	return nil
}

// A cancel committed between the claim and the slot taking the job, which
// no Abort can reach, still frees the slot without running the task.
func TestPool_CancelBeforeSlotTracksJob(t *testing.T) {
	h := newHarness(t, worker.WithCancelGracePeriod(20*time.Millisecond))

	var ran atomic.Int32
	h.registry.Register("", job.ExecutorFunc(func(ctx context.Context, _ []byte, _ job.ProgressFunc) error {
		ran.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}))
	h.registry.Register("next", job.ExecutorFunc(func(context.Context, []byte, job.ProgressFunc) error {
		return nil
	}))

	var target atomic.Value
	h.extensions.Register(&cancelOnStart{cancel: func(ctx context.Context, jobID id.JobID) {
		if want, _ := target.Load().(string); want == jobID.String() {
			_, err := h.store.CancelJob(ctx, jobID)
			assert.NoError(t, err)
		}
	}})

	j := storetest.NewJob(job.PriorityNormal)
	target.Store(j.ID.String())
	require.NoError(t, h.store.EnqueueJob(context.Background(), j))
	h.start(t)

	h.waitState(t, j.ID, job.StateCancelled)
	require.Eventually(t, func() bool { return h.pool.ActiveCount() == 0 }, 10*20*time.Millisecond, 5*time.Millisecond)

	// The single slot is free for the next job.
	next := h.submit(t, job.PriorityNormal, func(j *job.Job) { j.Kind = "next" })
	h.waitState(t, next.ID, job.StateCompleted)
	assert.Zero(t, ran.Load(), "a task cancelled before it started must not run")
}

// reapFirstAttempt loses every heartbeat of a job's first attempt.
type reapFirstAttempt struct {
	*memory.Store
}

func (s reapFirstAttempt) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	j, err := s.GetJob(ctx, jobID)
	if err == nil && j.Attempt == 1 {
		return errors.New("heartbeat lost")
	}
	return s.Store.HeartbeatJob(ctx, jobID, workerID)
}

// A reaped attempt still inside its grace period must not untrack the
// retry of the same job running in another slot.
func TestPool_ReapedAttemptKeepsRetryTracked(t *testing.T) {
	h := newHarnessWithStore(t,
		func(s *memory.Store) job.Store { return reapFirstAttempt{s} },
		worker.WithConcurrency(2),
		worker.WithCancelGracePeriod(2*time.Second),
		worker.WithHeartbeatInterval(5*time.Millisecond),
		worker.WithStaleJobThreshold(40*time.Millisecond),
	)

	releaseFirst := make(chan struct{})
	var closeFirst sync.Once
	t.Cleanup(func() { closeFirst.Do(func() { close(releaseFirst) }) })

	secondStarted := make(chan struct{})
	var calls atomic.Int32
	h.registry.Register("", job.ExecutorFunc(func(ctx context.Context, _ []byte, _ job.ProgressFunc) error {
		if calls.Add(1) == 1 {
			<-releaseFirst // ignores cancellation
			return nil
		}
		close(secondStarted)
		<-ctx.Done()
		return ctx.Err()
	}))
	h.registry.Register("next", job.ExecutorFunc(func(context.Context, []byte, job.ProgressFunc) error {
		return nil
	}))
	h.start(t)

	j := h.submit(t, job.PriorityNormal)
	select {
	case <-secondStarted:
	case <-time.After(waitFor):
		t.Fatal("reaped job was never retried")
	}

	// Let the first attempt return; its slot then takes the next job, so it
	// has untracked by the time that job completes.
	closeFirst.Do(func() { close(releaseFirst) })
	next := h.submit(t, job.PriorityNormal, func(j *job.Job) { j.Kind = "next" })
	h.waitState(t, next.ID, job.StateCompleted)

	_, err := h.store.CancelJob(context.Background(), j.ID)
	require.NoError(t, err)
	assert.True(t, h.pool.Abort(j.ID), "the retry must still be tracked")
	require.Eventually(t, func() bool { return h.pool.ActiveCount() == 0 }, waitFor, 5*time.Millisecond)

	got, err := h.store.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCancelled, got.State)
	assert.Equal(t, 2, got.Attempt)
}

func TestPool_AbortUnknownJob(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.pool.Abort(id.NewJobID()))
}

// ──────────────────────────────────────────────────
// Heartbeats and reaping
// ──────────────────────────────────────────────────

func TestPool_ReapsLostJob(t *testing.T) {
	h := newHarness(t, worker.WithStaleJobThreshold(20*time.Millisecond))
	h.registry.Register("", job.ExecutorFunc(func(context.Context, []byte, job.ProgressFunc) error {
		return nil
	}))

	// A slot in another process claims the job, then crashes.
	j := h.submit(t, job.PriorityNormal)
	claimed, err := h.store.ClaimJob(context.Background(), job.ClaimOpts{WorkerID: id.NewWorkerID()})
	require.NoError(t, err)
	require.Equal(t, j.ID.String(), claimed.ID.String())

	h.start(t)

	done := h.waitState(t, j.ID, job.StateCompleted)
	assert.Equal(t, 2, done.Attempt)
	assert.Contains(t, h.recorder.types(j.ID), event.TypeFailed)
}

func TestPool_HeartbeatsKeepLongJobsAlive(t *testing.T) {
	h := newHarness(t,
		worker.WithHeartbeatInterval(5*time.Millisecond),
		worker.WithStaleJobThreshold(40*time.Millisecond),
	)
	h.registry.Register("", job.ExecutorFunc(func(context.Context, []byte, job.ProgressFunc) error {
		time.Sleep(150 * time.Millisecond)
		return nil
	}))
	h.start(t)

	j := h.submit(t, job.PriorityNormal)
	done := h.waitState(t, j.ID, job.StateCompleted)
	assert.Equal(t, 1, done.Attempt, "a heartbeating job must never be reaped")
}

// ──────────────────────────────────────────────────
// Progress
// ──────────────────────────────────────────────────

func TestPool_ProgressIsThrottledAndMonotonic(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("", job.ExecutorFunc(func(_ context.Context, _ []byte, progress job.ProgressFunc) error {
		progress(10, "")
		progress(5, "")  // decrease, ignored
		progress(20, "") // inside the interval, throttled
		progress(150, "uploading")
		return nil
	}))
	h.start(t)

	j := h.submit(t, job.PriorityNormal)
	h.waitState(t, j.ID, job.StateCompleted)

	assert.Equal(t, []int{10, 100}, h.recorder.progressFor(j.ID))
}

// ──────────────────────────────────────────────────
// Ordering and exclusivity
// ──────────────────────────────────────────────────

func TestPool_FIFOWithinTierAtCapacityOne(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var order []string
	h.registry.Register("", job.ExecutorFunc(func(_ context.Context, p []byte, _ job.ProgressFunc) error {
		mu.Lock()
		order = append(order, string(p))
		mu.Unlock()
		return nil
	}))

	var last *job.Job
	var want []string
	for i := range 5 {
		payload := []byte{byte('a' + i)}
		want = append(want, string(payload))
		last = h.submit(t, job.PriorityNormal, func(j *job.Job) { j.Payload = payload })
	}
	h.start(t)
	h.waitState(t, last.ID, job.StateCompleted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, order)
}

func TestPool_NoDoubleExecution(t *testing.T) {
	h := newHarness(t, worker.WithConcurrency(8))

	var mu sync.Mutex
	runs := make(map[string]int)
	h.registry.Register("", job.ExecutorFunc(func(ctx context.Context, p []byte, _ job.ProgressFunc) error {
		mu.Lock()
		runs[string(p)]++
		mu.Unlock()
		time.Sleep(time.Millisecond)
		return nil
	}))
	h.start(t)

	const total = 60
	ids := make([]id.JobID, 0, total)
	for i := range total {
		p := job.Priorities[i%len(job.Priorities)]
		j := h.submit(t, p, func(j *job.Job) { j.Payload = []byte(j.ID.String()) })
		ids = append(ids, j.ID)
	}
	for _, jobID := range ids {
		h.waitState(t, jobID, job.StateCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, runs, total)
	for payload, n := range runs {
		assert.Equal(t, 1, n, "job %s executed %d times", payload, n)
	}
}
