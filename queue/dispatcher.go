package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

// minWait keeps a due-but-unclaimed retry from spinning the dispatcher.
const minWait = 5 * time.Millisecond

// Dispatcher hands the most urgent eligible job to the next free slot.
type Dispatcher struct {
	store        job.Store
	manager      *Manager
	logger       *slog.Logger
	pollInterval time.Duration

	mu     sync.Mutex
	wake   chan struct{}
	paused bool

	// claimMu serialises limit checks with claims so that two slots can
	// never both take the last opening in a capped tier.
	claimMu sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithManager installs per-tier limits.
func WithManager(m *Manager) Option {
	return func(d *Dispatcher) { d.manager = m }
}

// WithPollInterval bounds how long an idle dispatcher sleeps before looking
// at the store again. It matters when other processes share the store.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher over store.
func NewDispatcher(store job.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:        store,
		logger:       slog.Default(),
		pollInterval: time.Second,
		wake:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Manager returns the tier limit manager, which may be nil.
func (d *Dispatcher) Manager() *Manager { return d.manager }

// Next blocks until it claims a job for workerID or ctx ends. The returned
// job is already active and held by workerID.
func (d *Dispatcher) Next(ctx context.Context, workerID id.WorkerID) (*job.Job, error) {
	for {
		// Take the wake channel before looking, so a Wake that races with
		// an empty claim is never lost.
		wake := d.signal()

		if !d.Paused() {
			j, err := d.claim(ctx, workerID)
			if err != nil {
				return nil, err
			}
			if j != nil {
				return j, nil
			}
		}

		timer := time.NewTimer(d.idleWait(ctx))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (d *Dispatcher) claim(ctx context.Context, workerID id.WorkerID) (*job.Job, error) {
	if d.manager.Limited() {
		d.claimMu.Lock()
		defer d.claimMu.Unlock()
	}

	tiers := d.manager.Allowed()
	if tiers != nil && len(tiers) == 0 {
		return nil, nil
	}

	j, err := d.store.ClaimJob(ctx, job.ClaimOpts{WorkerID: workerID, Priorities: tiers})
	if err != nil {
		return nil, err
	}
	if j != nil {
		d.manager.Acquire(j.Priority)
		d.logger.Debug("job dispatched",
			slog.String("job_id", j.ID.String()),
			slog.String("priority", j.Priority.String()),
			slog.Int("attempt", j.Attempt),
			slog.String("worker_id", workerID.String()),
		)
	}
	return j, nil
}

// idleWait is the sleep until the next delayed job becomes eligible,
// bounded by the poll interval.
func (d *Dispatcher) idleWait(ctx context.Context) time.Duration {
	wait := d.pollInterval
	if d.Paused() {
		return wait
	}
	next, ok, err := d.store.NextEligibleAt(ctx)
	if err != nil {
		d.logger.Warn("next eligible lookup failed", slog.String("error", err.Error()))
		return wait
	}
	if ok {
		if until := time.Until(next); until < wait {
			wait = max(until, minWait)
		}
	}
	return wait
}

func (d *Dispatcher) signal() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wake
}

// Wake releases every slot blocked in Next so they look at the store again.
// Call it after enqueueing, scheduling a retry or freeing a slot.
func (d *Dispatcher) Wake() {
	d.mu.Lock()
	defer d.mu.Unlock()
	close(d.wake)
	d.wake = make(chan struct{})
}

// Release returns a tier opening taken by a dispatched job and wakes the
// idle slots.
func (d *Dispatcher) Release(p job.Priority) {
	d.manager.Release(p)
	d.Wake()
}

// Pause stops claiming. Queued jobs stay queued; active jobs are
// unaffected.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

// Resume restarts claiming.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	d.Wake()
}

// Paused reports whether claiming is stopped.
func (d *Dispatcher) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}
