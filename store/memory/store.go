// Package memory provides a fully in-memory implementation of store.Store.
// It is safe for concurrent use and intended for tests, development and
// single-process deployments that can afford to lose state on restart.
//
// Jobs are locked per row: the index lock is held only to find or add a
// row, so transitions on different jobs proceed in parallel. DLQ entries
// and subscriptions each sit behind their own lock.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/webhook"
)

// Ensure Store implements every subsystem store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store     = (*Store)(nil)
	_ dlq.Store     = (*Store)(nil)
	_ webhook.Store = (*Store)(nil)
)

// jobRow is one stored job and the lock that serialises its transitions.
type jobRow struct {
	mu sync.Mutex
	j  *job.Job
}

// Store keeps all records in maps. Every read returns a copy, so callers
// can never mutate stored state.
//
// Lock order is claimMu, then mu, then a row lock.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobRow
	seq  int64

	// claimMu keeps two claims from picking the same row.
	claimMu sync.Mutex

	dlqMu sync.RWMutex
	dlqs  map[string]*dlq.Entry

	subsMu sync.RWMutex
	subs   map[string]*webhook.Subscription

	nowFunc func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(m *Store) { m.nowFunc = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		jobs:    make(map[string]*jobRow),
		dlqs:    make(map[string]*dlq.Entry),
		subs:    make(map[string]*webhook.Subscription),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Store) now() time.Time { return m.nowFunc().UTC() }

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// row looks up a job row. The index lock is released before returning.
func (m *Store) row(jobID id.JobID) (*jobRow, error) {
	m.mu.RLock()
	r, ok := m.jobs[jobID.String()]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(renderq.ErrJobNotFound, "job %s", jobID)
	}
	return r, nil
}

// withRow runs fn on the stored job under its row lock and returns a copy
// of the result.
func (m *Store) withRow(jobID id.JobID, fn func(j *job.Job) error) (*job.Job, error) {
	r, err := m.row(jobID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := fn(r.j); err != nil {
		return nil, err
	}
	return r.j.Clone(), nil
}

// scan visits every job under the index read lock, one row lock at a time.
func (m *Store) scan(fn func(r *jobRow)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.jobs {
		r.mu.Lock()
		fn(r)
		r.mu.Unlock()
	}
}

// EnqueueJob persists a new job and assigns its submission sequence.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[j.ID.String()]; exists {
		return errors.Wrapf(renderq.ErrJobAlreadyExists, "job %s", j.ID)
	}
	m.seq++
	j.Seq = m.seq
	m.jobs[j.ID.String()] = &jobRow{j: j.Clone()}
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	return m.withRow(jobID, func(*job.Job) error { return nil })
}

// UpdateJobState applies t under the job's row lock.
func (m *Store) UpdateJobState(_ context.Context, jobID id.JobID, t job.Transition) (*job.Job, error) {
	return m.withRow(jobID, func(j *job.Job) error {
		return t.Apply(j, m.now())
	})
}

// CancelJob cancels a queued or active job.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	return m.withRow(jobID, func(j *job.Job) error {
		return job.CancelFrom(j.State).Apply(j, m.now())
	})
}

// ClaimJob picks the most urgent eligible job and activates it. A pick that
// a concurrent cancel made ineligible is skipped and the scan repeats.
func (m *Store) ClaimJob(_ context.Context, opts job.ClaimOpts) (*job.Job, error) {
	m.claimMu.Lock()
	defer m.claimMu.Unlock()

	now := opts.Now
	if now.IsZero() {
		now = m.now()
	}

	for {
		var (
			best     *jobRow
			bestSeen *job.Job
		)
		m.scan(func(r *jobRow) {
			if !r.j.Eligible(now) || !opts.Allows(r.j.Priority) {
				return
			}
			if bestSeen == nil || r.j.Less(bestSeen) {
				best, bestSeen = r, r.j.Clone()
			}
		})
		if best == nil {
			return nil, nil
		}

		best.mu.Lock()
		if !best.j.Eligible(now) || !opts.Allows(best.j.Priority) {
			best.mu.Unlock()
			continue
		}
		t := job.Transition{From: job.StateQueued, To: job.StateActive, WorkerID: opts.WorkerID}
		err := t.Apply(best.j, m.now())
		claimed := best.j.Clone()
		best.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return claimed, nil
	}
}

// UpdateJobProgress records monotonic progress for an active attempt.
func (m *Store) UpdateJobProgress(_ context.Context, jobID id.JobID, attempt, percent int, stage string) (*job.Job, error) {
	return m.withRow(jobID, func(j *job.Job) error {
		_, err := job.ApplyProgress(j, attempt, percent, stage, m.now())
		return err
	})
}

// ListJobsByState returns jobs in the given state in dispatch order.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	var result []*job.Job
	m.scan(func(r *jobRow) {
		if r.j.State == state {
			result = append(result, r.j.Clone())
		}
	})
	slices.SortFunc(result, func(a, b *job.Job) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountJobs returns the number of jobs per state.
func (m *Store) CountJobs(_ context.Context) (map[job.State]int64, error) {
	counts := make(map[job.State]int64, len(job.States))
	for _, s := range job.States {
		counts[s] = 0
	}
	m.scan(func(r *jobRow) { counts[r.j.State]++ })
	return counts, nil
}

// NextEligibleAt returns the earliest future eligibility among queued jobs.
func (m *Store) NextEligibleAt(_ context.Context) (time.Time, bool, error) {
	now := m.now()
	var next time.Time
	m.scan(func(r *jobRow) {
		j := r.j
		if j.State != job.StateQueued || !j.NextEligibleAt.After(now) {
			return
		}
		if next.IsZero() || j.NextEligibleAt.Before(next) {
			next = j.NextEligibleAt
		}
	})
	return next, !next.IsZero(), nil
}

// HeartbeatJob refreshes the heartbeat of an active job held by workerID.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	_, err := m.withRow(jobID, func(j *job.Job) error {
		if j.State != job.StateActive || j.WorkerID.String() != workerID.String() {
			return errors.Wrapf(renderq.ErrConflict, "job %s not held by %s", jobID, workerID)
		}
		now := m.now()
		j.HeartbeatAt = &now
		return nil
	})
	return err
}

// ReapStaleJobs returns active jobs whose heartbeat is older than threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := m.now().Add(-threshold)
	var stale []*job.Job
	m.scan(func(r *jobRow) {
		j := r.j
		if j.State == job.StateActive && j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j.Clone())
		}
	})
	return stale, nil
}

// PurgeJobs deletes terminal jobs last updated before the cut-off.
func (m *Store) PurgeJobs(_ context.Context, states []job.State, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, r := range m.jobs {
		r.mu.Lock()
		j := r.j
		purge := j.State.IsTerminal() && slices.Contains(states, j.State) && j.UpdatedAt.Before(before)
		r.mu.Unlock()
		if purge {
			delete(m.jobs, key)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds an entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.dlqMu.Lock()
	defer m.dlqMu.Unlock()
	m.dlqs[entry.ID.String()] = entry.Clone()
	return nil
}

// ListDLQ returns entries, most recent failure first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.dlqMu.RLock()
	defer m.dlqMu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		result = append(result, e.Clone())
	}
	slices.SortFunc(result, func(a, b *dlq.Entry) int {
		return b.FailedAt.Compare(a.FailedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves an entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.dlqMu.RLock()
	defer m.dlqMu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, errors.Wrapf(renderq.ErrDLQNotFound, "entry %s", entryID)
	}
	return e.Clone(), nil
}

// ReplayDLQ marks an entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.dlqMu.Lock()
	defer m.dlqMu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return errors.Wrapf(renderq.ErrDLQNotFound, "entry %s", entryID)
	}
	now := m.now()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.dlqMu.Lock()
	defer m.dlqMu.Unlock()

	var n int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			n++
		}
	}
	return n, nil
}

// CountDLQ returns the number of entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.dlqMu.RLock()
	defer m.dlqMu.RUnlock()
	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Webhook Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (m *Store) CreateSubscription(_ context.Context, s *webhook.Subscription) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	if _, exists := m.subs[s.ID.String()]; exists {
		return errors.Wrapf(renderq.ErrConflict, "subscription %s already exists", s.ID)
	}
	m.subs[s.ID.String()] = s.Clone()
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (m *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*webhook.Subscription, error) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()

	s, ok := m.subs[subID.String()]
	if !ok {
		return nil, errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", subID)
	}
	return s.Clone(), nil
}

// ListSubscriptions returns all subscriptions, oldest first.
func (m *Store) ListSubscriptions(_ context.Context) ([]*webhook.Subscription, error) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()

	result := make([]*webhook.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		result = append(result, s.Clone())
	}
	slices.SortFunc(result, func(a, b *webhook.Subscription) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

// UpdateSubscription replaces a stored subscription.
func (m *Store) UpdateSubscription(_ context.Context, s *webhook.Subscription) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	if _, ok := m.subs[s.ID.String()]; !ok {
		return errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", s.ID)
	}
	m.subs[s.ID.String()] = s.Clone()
	return nil
}

// DeleteSubscription removes a subscription.
func (m *Store) DeleteSubscription(_ context.Context, subID id.SubscriptionID) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	if _, ok := m.subs[subID.String()]; !ok {
		return errors.Wrapf(renderq.ErrSubscriptionNotFound, "subscription %s", subID)
	}
	delete(m.subs, subID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
