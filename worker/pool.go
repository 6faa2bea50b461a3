package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/queue"
)

// Cancel causes seen by tasks through context.Cause.
var (
	errAborted  = errors.New("job cancelled")
	errShutdown = errors.New("worker pool shutting down")
)

// slotJob tracks one attempt occupying a slot.
type slotJob struct {
	job      *job.Job
	workerID id.WorkerID
	abort    chan struct{}
	once     sync.Once
}

func (r *slotJob) signal() {
	r.once.Do(func() { close(r.abort) })
}

// Pool manages a fixed set of slots that pull jobs from the dispatcher and
// execute them through the Executor.
type Pool struct {
	store      job.Store
	dispatcher *queue.Dispatcher
	executor   *Executor
	logger     *slog.Logger

	concurrency  int
	pollInterval time.Duration
	gracePeriod  time.Duration
	hardTimeout  time.Duration

	// Heartbeat / reaper configuration.
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	cancel context.CancelFunc
	kill   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	running    bool
	activeJobs map[string]*slotJob
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of slots.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long a slot backs off after a store error.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithCancelGracePeriod sets how long a cancelled task may keep its slot.
func WithCancelGracePeriod(d time.Duration) PoolOption {
	return func(p *Pool) { p.gracePeriod = d }
}

// WithHardTimeout caps slot occupancy per attempt. A zero value disables
// it.
func WithHardTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.hardTimeout = d }
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets the threshold after which active jobs
// without a heartbeat are considered lost and reaped. A zero value
// disables stale job reaping.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	dispatcher *queue.Dispatcher,
	executor *Executor,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		dispatcher:   dispatcher,
		executor:     executor,
		logger:       logger,
		concurrency:  4,
		pollInterval: time.Second,
		gracePeriod:  10 * time.Second,
		activeJobs:   make(map[string]*slotJob),
	}
	for _, opt := range opts {
		opt(p)
	}
	executor.OnRetry(dispatcher.Wake)
	return p
}

// Capacity returns the number of slots.
func (p *Pool) Capacity() int { return p.concurrency }

// ActiveCount returns the number of occupied slots.
func (p *Pool) ActiveCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

// Start launches the slots and the heartbeat and reaper loops. It returns
// immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.kill = make(chan struct{})

	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Duration("hard_timeout", p.hardTimeout),
		slog.Duration("cancel_grace_period", p.gracePeriod),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.slotLoop(ctx, id.NewWorkerID())
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop(ctx)
	}

	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop(ctx)
	}

	return nil
}

// Stop stops claiming and waits for running tasks to finish. If ctx ends
// first, running tasks are cancelled and each slot waits at most the grace
// period; tasks still running after that stay active in the store and are
// recovered by the reaper.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel, kill := p.cancel, p.kill
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs",
			slog.Int("active", p.ActiveCount()),
		)
		close(kill)
		<-done
	}

	return nil
}

// Abort cancels the task of a locally running job. The caller has already
// moved the job out of active. It reports whether the job was running here.
func (p *Pool) Abort(jobID id.JobID) bool {
	p.activeMu.Lock()
	r, ok := p.activeJobs[jobID.String()]
	p.activeMu.Unlock()
	if ok {
		r.signal()
	}
	return ok
}

// slotLoop is run by each slot goroutine.
func (p *Pool) slotLoop(ctx context.Context, workerID id.WorkerID) {
	defer p.wg.Done()

	for {
		j, err := p.dispatcher.Next(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("claim error",
				slog.String("worker_id", workerID.String()),
				slog.String("error", err.Error()),
			)
			p.sleep(ctx)
			continue
		}

		p.execute(j, workerID)
		p.dispatcher.Release(j.Priority)
	}
}

// execute occupies the slot until the attempt returns, or until an abort or
// the hard timeout plus the grace period.
func (p *Pool) execute(j *job.Job, workerID id.WorkerID) {
	bg := context.Background()

	// Tracked before any event goes out, so a cancel issued from an
	// extension reaches this slot.
	r := &slotJob{job: j, workerID: workerID, abort: make(chan struct{})}
	p.track(r)
	defer p.untrack(r)

	p.executor.Started(bg, j)
	if !p.held(bg, r) {
		p.logger.Info("job left active before its task started, slot released",
			slog.String("job_id", j.ID.String()),
			slog.Int("attempt", j.Attempt),
		)
		return
	}

	taskCtx, cancel := context.WithCancelCause(bg)
	defer cancel(nil)

	done := make(chan error, 1)
	go func() {
		done <- p.executor.Run(taskCtx, j)
	}()

	var hard <-chan time.Time
	if p.hardTimeout > 0 {
		t := time.NewTimer(p.hardTimeout)
		defer t.Stop()
		hard = t.C
	}

	select {
	case err := <-done:
		p.executor.Finish(bg, j, err)

	case <-r.abort:
		cancel(errAborted)
		p.reclaim(j, done, "cancelled")

	case <-hard:
		p.logger.Warn("hard timeout elapsed, cancelling job",
			slog.String("job_id", j.ID.String()),
			slog.Duration("hard_timeout", p.hardTimeout),
		)
		p.executor.Cancel(bg, j, "hard timeout of "+p.hardTimeout.String()+" exceeded")
		cancel(renderq.ErrTimeout)
		p.reclaim(j, done, "hard timeout")

	case <-p.kill:
		cancel(errShutdown)
		select {
		case err := <-done:
			p.executor.Finish(bg, j, err)
		case <-time.After(p.gracePeriod):
			p.logger.Warn("task ignored shutdown, leaving it to the reaper",
				slog.String("job_id", j.ID.String()),
			)
		}
	}
}

// held reports whether the attempt of r is still active in the store. A
// cancel committed between the claim and track found no slot to signal, so
// the slot re-reads the job once it is tracked.
func (p *Pool) held(ctx context.Context, r *slotJob) bool {
	select {
	case <-r.abort:
		return false
	default:
	}

	cur, err := p.store.GetJob(ctx, r.job.ID)
	if err != nil {
		// Heartbeats catch a lost job later.
		p.logger.Warn("re-read of claimed job failed",
			slog.String("job_id", r.job.ID.String()),
			slog.String("error", err.Error()),
		)
		return true
	}
	if cur.State != job.StateActive || cur.Attempt != r.job.Attempt {
		r.signal()
		return false
	}
	return true
}

// reclaim waits up to the grace period for a cancelled task to return.
// Its outcome is discarded either way.
func (p *Pool) reclaim(j *job.Job, done <-chan error, reason string) {
	grace := time.NewTimer(p.gracePeriod)
	defer grace.Stop()

	select {
	case <-done:
		p.logger.Info("cancelled task returned",
			slog.String("job_id", j.ID.String()),
			slog.String("reason", reason),
		)
	case <-grace.C:
		p.logger.Warn("task did not stop within grace period, slot reclaimed",
			slog.String("job_id", j.ID.String()),
			slog.String("reason", reason),
			slog.Duration("grace_period", p.gracePeriod),
		)
	}
}

// heartbeatLoop periodically sends heartbeats for all active jobs.
func (p *Pool) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sendHeartbeats(ctx)
		}
	}
}

func (p *Pool) sendHeartbeats(ctx context.Context) {
	p.activeMu.Lock()
	active := make([]*slotJob, 0, len(p.activeJobs))
	for _, r := range p.activeJobs {
		active = append(active, r)
	}
	p.activeMu.Unlock()

	for _, r := range active {
		err := p.store.HeartbeatJob(ctx, r.job.ID, r.workerID)
		switch {
		case err == nil:
		case renderq.IsConflict(err):
			// Cancelled or reaped elsewhere; stop the local task.
			p.logger.Info("job no longer held by this slot, aborting",
				slog.String("job_id", r.job.ID.String()),
			)
			r.signal()
		default:
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", r.job.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically reaps jobs whose heartbeat has expired.
func (p *Pool) reaperLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ReapStaleJobs(ctx)
		}
	}
}

// ReapStaleJobs fails every active job whose heartbeat is older than the
// stale threshold and applies the retry policy to it.
func (p *Pool) ReapStaleJobs(ctx context.Context) {
	stale, err := p.store.ReapStaleJobs(ctx, p.staleJobThreshold)
	if err != nil {
		p.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		p.logger.Warn("reaping lost job",
			slog.String("job_id", j.ID.String()),
			slog.String("worker_id", j.WorkerID.String()),
			slog.Int("attempt", j.Attempt),
		)
		// Abort first: once Fail requeues the job another slot may claim it
		// under the same ID.
		p.Abort(j.ID)
		p.executor.Fail(ctx, j, errors.Wrapf(renderq.ErrWorkerLost, "no heartbeat from %s", j.WorkerID))
	}
}

func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (p *Pool) track(r *slotJob) {
	p.activeMu.Lock()
	p.activeJobs[r.job.ID.String()] = r
	p.activeMu.Unlock()
}

// untrack removes r unless a newer attempt of the same job has replaced it.
func (p *Pool) untrack(r *slotJob) {
	key := r.job.ID.String()
	p.activeMu.Lock()
	if p.activeJobs[key] == r {
		delete(p.activeJobs, key)
	}
	p.activeMu.Unlock()
}
