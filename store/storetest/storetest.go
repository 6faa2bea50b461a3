// Package storetest is the behavioural conformance suite shared by every
// store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/store"
	"github.com/xraph/renderq/webhook"
)

// Factory returns a fresh, empty, migrated store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the whole suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	t.Run("Jobs", func(t *testing.T) { RunJobs(t, newStore) })
	t.Run("DLQ", func(t *testing.T) { RunDLQ(t, newStore) })
	t.Run("Webhooks", func(t *testing.T) { RunWebhooks(t, newStore) })
}

// NewJob returns a queued job ready for EnqueueJob.
func NewJob(p job.Priority) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		Entity:         renderq.Entity{CreatedAt: now, UpdatedAt: now},
		ID:             id.NewJobID(),
		Kind:           "video",
		Payload:        []byte(`{"scene":"intro"}`),
		State:          job.StateQueued,
		Priority:       p,
		MaxAttempts:    3,
		Timeout:        time.Minute,
		NextEligibleAt: now,
	}
}

func enqueue(t *testing.T, s store.Store, j *job.Job) *job.Job {
	t.Helper()
	require.NoError(t, s.EnqueueJob(context.Background(), j))
	return j
}

func claim(t *testing.T, s store.Store) *job.Job {
	t.Helper()
	j, err := s.ClaimJob(context.Background(), job.ClaimOpts{WorkerID: id.NewWorkerID()})
	require.NoError(t, err)
	return j
}

// RunJobs covers the job.Store contract.
func RunJobs(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("EnqueueAndGet", func(t *testing.T) {
		s := newStore(t)
		a := enqueue(t, s, NewJob(job.PriorityNormal))
		b := enqueue(t, s, NewJob(job.PriorityNormal))
		assert.Greater(t, b.Seq, a.Seq, "seq must increase")

		got, err := s.GetJob(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID.String(), got.ID.String())
		assert.Equal(t, job.StateQueued, got.State)
		assert.Equal(t, "video", got.Kind)
		assert.Equal(t, `{"scene":"intro"}`, string(got.Payload))
		assert.Equal(t, job.PriorityNormal, got.Priority)
		assert.Equal(t, 3, got.MaxAttempts)
		assert.Equal(t, time.Minute, got.Timeout)
		assert.Equal(t, a.Seq, got.Seq)

		err = s.EnqueueJob(ctx, a)
		assert.True(t, errors.Is(err, renderq.ErrJobAlreadyExists), "duplicate enqueue: %v", err)

		_, err = s.GetJob(ctx, id.NewJobID())
		assert.True(t, errors.Is(err, renderq.ErrJobNotFound), "missing job: %v", err)
	})

	t.Run("ClaimOrder", func(t *testing.T) {
		s := newStore(t)
		low := enqueue(t, s, NewJob(job.PriorityLow))
		high := enqueue(t, s, NewJob(job.PriorityHigh))
		normal1 := enqueue(t, s, NewJob(job.PriorityNormal))
		normal2 := enqueue(t, s, NewJob(job.PriorityNormal))
		urgent := enqueue(t, s, NewJob(job.PriorityUrgent))

		for _, want := range []*job.Job{urgent, high, normal1, normal2, low} {
			got := claim(t, s)
			require.NotNil(t, got)
			assert.Equal(t, want.ID.String(), got.ID.String(), "priority %s", want.Priority)
			assert.Equal(t, job.StateActive, got.State)
			assert.Equal(t, 1, got.Attempt)
		}
		assert.Nil(t, claim(t, s), "queue should be drained")
	})

	t.Run("ClaimSkipsIneligibleAndFilters", func(t *testing.T) {
		s := newStore(t)
		later := NewJob(job.PriorityUrgent)
		later.NextEligibleAt = time.Now().UTC().Add(time.Hour)
		enqueue(t, s, later)
		low := enqueue(t, s, NewJob(job.PriorityLow))

		next, ok, err := s.NextEligibleAt(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.WithinDuration(t, later.NextEligibleAt, next, time.Millisecond)

		got, err := s.ClaimJob(ctx, job.ClaimOpts{WorkerID: id.NewWorkerID(), Priorities: []job.Priority{job.PriorityHigh}})
		require.NoError(t, err)
		assert.Nil(t, got, "low job must be filtered out")

		got = claim(t, s)
		require.NotNil(t, got)
		assert.Equal(t, low.ID.String(), got.ID.String())

		got, err = s.ClaimJob(ctx, job.ClaimOpts{WorkerID: id.NewWorkerID(), Now: later.NextEligibleAt.Add(time.Second)})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, later.ID.String(), got.ID.String())

		_, ok, err = s.NextEligibleAt(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ConcurrentClaimsNeverDoubleDispatch", func(t *testing.T) {
		s := newStore(t)
		const jobs, workers = 40, 8
		for range jobs {
			enqueue(t, s, NewJob(job.PriorityNormal))
		}

		var mu sync.Mutex
		seen := make(map[string]int)
		var wg sync.WaitGroup
		var claimed atomic.Int64
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				wid := id.NewWorkerID()
				for {
					j, err := s.ClaimJob(ctx, job.ClaimOpts{WorkerID: wid})
					if err != nil {
						t.Errorf("claim: %v", err)
						return
					}
					if j == nil {
						return
					}
					claimed.Add(1)
					mu.Lock()
					seen[j.ID.String()]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.EqualValues(t, jobs, claimed.Load())
		for jobID, n := range seen {
			assert.Equal(t, 1, n, "job %s claimed %d times", jobID, n)
		}
	})

	t.Run("UpdateJobStateCAS", func(t *testing.T) {
		s := newStore(t)
		enqueue(t, s, NewJob(job.PriorityNormal))
		j := claim(t, s)
		require.NotNil(t, j)

		_, err := s.UpdateJobState(ctx, j.ID, job.Transition{From: job.StateQueued, To: job.StateCancelled})
		assert.True(t, errors.Is(err, renderq.ErrConflict), "stale from: %v", err)

		failed, err := s.UpdateJobState(ctx, j.ID, job.Transition{From: job.StateActive, To: job.StateFailed, Error: "exit 1"})
		require.NoError(t, err)
		assert.Equal(t, "exit 1", failed.LastError)

		retryAt := time.Now().UTC().Add(time.Minute)
		queued, err := s.UpdateJobState(ctx, j.ID, job.Transition{From: job.StateFailed, To: job.StateQueued, NextEligibleAt: retryAt})
		require.NoError(t, err)
		assert.WithinDuration(t, retryAt, queued.NextEligibleAt, time.Millisecond)
		assert.True(t, queued.WorkerID.IsNil())

		assert.Nil(t, claim(t, s), "retry is not eligible yet")

		_, err = s.UpdateJobState(ctx, id.NewJobID(), job.Transition{From: job.StateQueued, To: job.StateActive})
		assert.True(t, errors.Is(err, renderq.ErrJobNotFound))
	})

	t.Run("TerminalIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		enqueue(t, s, NewJob(job.PriorityNormal))
		j := claim(t, s)
		done, err := s.UpdateJobState(ctx, j.ID, job.Transition{From: job.StateActive, To: job.StateCompleted})
		require.NoError(t, err)
		assert.Equal(t, 100, done.Progress)
		assert.NotNil(t, done.CompletedAt)

		for _, to := range job.States {
			_, err := s.UpdateJobState(ctx, j.ID, job.Transition{From: job.StateCompleted, To: to})
			assert.True(t, errors.Is(err, renderq.ErrConflict), "completed -> %s: %v", to, err)
		}
		_, err = s.CancelJob(ctx, j.ID)
		assert.True(t, errors.Is(err, renderq.ErrAlreadyTerminal))

		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StateCompleted, got.State)
	})

	t.Run("RacingTransitionsOneWinner", func(t *testing.T) {
		s := newStore(t)
		for range 10 {
			enqueue(t, s, NewJob(job.PriorityNormal))
			j := claim(t, s)
			require.NotNil(t, j)

			var wins atomic.Int32
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				if _, err := s.UpdateJobState(ctx, j.ID, job.Transition{From: job.StateActive, To: job.StateCompleted}); err == nil {
					wins.Add(1)
				} else if !errors.Is(err, renderq.ErrConflict) {
					t.Errorf("complete: %v", err)
				}
			}()
			go func() {
				defer wg.Done()
				if _, err := s.CancelJob(ctx, j.ID); err == nil {
					wins.Add(1)
				} else if !errors.Is(err, renderq.ErrConflict) {
					t.Errorf("cancel: %v", err)
				}
			}()
			wg.Wait()
			assert.EqualValues(t, 1, wins.Load())
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		s := newStore(t)
		queued := enqueue(t, s, NewJob(job.PriorityNormal))
		got, err := s.CancelJob(ctx, queued.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StateCancelled, got.State)
		assert.Nil(t, claim(t, s), "cancelled job must never dispatch")

		enqueue(t, s, NewJob(job.PriorityNormal))
		active := claim(t, s)
		got, err = s.CancelJob(ctx, active.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StateCancelled, got.State)

		_, err = s.CancelJob(ctx, active.ID)
		assert.True(t, errors.Is(err, renderq.ErrConflict))

		_, err = s.CancelJob(ctx, id.NewJobID())
		assert.True(t, errors.Is(err, renderq.ErrJobNotFound))
	})

	t.Run("Progress", func(t *testing.T) {
		s := newStore(t)
		queued := enqueue(t, s, NewJob(job.PriorityNormal))
		_, err := s.UpdateJobProgress(ctx, queued.ID, 0, 10, "")
		assert.True(t, errors.Is(err, renderq.ErrConflict), "progress on queued job")

		j := claim(t, s)
		got, err := s.UpdateJobProgress(ctx, j.ID, 1, 40, "rendering")
		require.NoError(t, err)
		assert.Equal(t, 40, got.Progress)
		assert.Equal(t, "rendering", got.Stage)

		got, err = s.UpdateJobProgress(ctx, j.ID, 1, 25, "")
		require.NoError(t, err)
		assert.Equal(t, 40, got.Progress, "progress must not decrease")

		got, err = s.UpdateJobProgress(ctx, j.ID, 1, 140, "uploading")
		require.NoError(t, err)
		assert.Equal(t, 100, got.Progress)

		_, err = s.UpdateJobProgress(ctx, j.ID, 2, 50, "")
		assert.True(t, errors.Is(err, renderq.ErrConflict), "stale attempt")
	})

	t.Run("ListAndCount", func(t *testing.T) {
		s := newStore(t)
		low := enqueue(t, s, NewJob(job.PriorityLow))
		high := enqueue(t, s, NewJob(job.PriorityHigh))
		normal := enqueue(t, s, NewJob(job.PriorityNormal))
		cancelled := enqueue(t, s, NewJob(job.PriorityNormal))
		_, err := s.CancelJob(ctx, cancelled.ID)
		require.NoError(t, err)

		list, err := s.ListJobsByState(ctx, job.StateQueued, job.ListOpts{})
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []string{high.ID.String(), normal.ID.String(), low.ID.String()},
			[]string{list[0].ID.String(), list[1].ID.String(), list[2].ID.String()})

		page, err := s.ListJobsByState(ctx, job.StateQueued, job.ListOpts{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, normal.ID.String(), page[0].ID.String())

		counts, err := s.CountJobs(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, counts[job.StateQueued])
		assert.EqualValues(t, 1, counts[job.StateCancelled])
		assert.EqualValues(t, 0, counts[job.StateActive])
	})

	t.Run("HeartbeatAndReap", func(t *testing.T) {
		s := newStore(t)
		enqueue(t, s, NewJob(job.PriorityNormal))
		j := claim(t, s)

		require.NoError(t, s.HeartbeatJob(ctx, j.ID, j.WorkerID))
		err := s.HeartbeatJob(ctx, j.ID, id.NewWorkerID())
		assert.Error(t, err, "heartbeat from a different slot")

		stale, err := s.ReapStaleJobs(ctx, time.Hour)
		require.NoError(t, err)
		assert.Empty(t, stale)

		time.Sleep(30 * time.Millisecond)
		stale, err = s.ReapStaleJobs(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, j.ID.String(), stale[0].ID.String())
	})

	t.Run("Purge", func(t *testing.T) {
		s := newStore(t)
		done := enqueue(t, s, NewJob(job.PriorityNormal))
		claimed := claim(t, s)
		require.Equal(t, done.ID.String(), claimed.ID.String())
		_, err := s.UpdateJobState(ctx, done.ID, job.Transition{From: job.StateActive, To: job.StateCompleted})
		require.NoError(t, err)
		keep := enqueue(t, s, NewJob(job.PriorityNormal))

		n, err := s.PurgeJobs(ctx, []job.State{job.StateCompleted}, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n, "recent jobs survive")

		n, err = s.PurgeJobs(ctx, []job.State{job.StateCompleted}, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		_, err = s.GetJob(ctx, done.ID)
		assert.True(t, errors.Is(err, renderq.ErrJobNotFound))
		_, err = s.GetJob(ctx, keep.ID)
		assert.NoError(t, err, "queued jobs are never purged")
	})
}

// RunDLQ covers the dlq.Store contract.
func RunDLQ(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	var entries []*dlq.Entry
	for i := range 3 {
		e := &dlq.Entry{
			ID:          id.NewDLQID(),
			JobID:       id.NewJobID(),
			Kind:        "video",
			Priority:    job.PriorityHigh,
			Payload:     []byte(fmt.Sprintf(`{"n":%d}`, i)),
			Error:       "encoder crashed",
			Attempt:     3,
			MaxAttempts: 3,
			FailedAt:    base.Add(time.Duration(i) * time.Minute),
			CreatedAt:   base,
		}
		require.NoError(t, s.PushDLQ(ctx, e))
		entries = append(entries, e)
	}

	n, err := s.CountDLQ(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	list, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, entries[2].ID.String(), list[0].ID.String(), "newest failure first")

	got, err := s.GetDLQ(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, `{"n":0}`, string(got.Payload))
	assert.Equal(t, job.PriorityHigh, got.Priority)
	assert.Nil(t, got.ReplayedAt)

	require.NoError(t, s.ReplayDLQ(ctx, entries[0].ID))
	got, err = s.GetDLQ(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ReplayedAt)

	_, err = s.GetDLQ(ctx, id.NewDLQID())
	assert.True(t, errors.Is(err, renderq.ErrDLQNotFound))
	assert.True(t, errors.Is(s.ReplayDLQ(ctx, id.NewDLQID()), renderq.ErrDLQNotFound))

	purged, err := s.PurgeDLQ(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, purged)
	n, err = s.CountDLQ(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

// RunWebhooks covers the webhook.Store contract.
func RunWebhooks(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	sub := &webhook.Subscription{
		Entity:       renderq.Entity{CreatedAt: now, UpdatedAt: now},
		ID:           id.NewSubscriptionID(),
		URL:          "https://hooks.example.com/render",
		Secret:       "s3cret",
		Events:       []event.Type{event.TypeCompleted, event.TypeDeadLettered},
		Headers:      map[string]string{"X-Team": "video"},
		Active:       true,
		CircuitState: webhook.CircuitClosed,
		Cooldown:     time.Minute,
	}
	require.NoError(t, s.CreateSubscription(ctx, sub))
	assert.True(t, errors.Is(s.CreateSubscription(ctx, sub), renderq.ErrConflict))

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.URL, got.URL)
	assert.Equal(t, sub.Secret, got.Secret)
	assert.Equal(t, sub.Events, got.Events)
	assert.Equal(t, sub.Headers, got.Headers)
	assert.True(t, got.Active)
	assert.Equal(t, webhook.CircuitClosed, got.CircuitState)

	openUntil := now.Add(time.Minute)
	got.CircuitState = webhook.CircuitOpen
	got.FailureCount = 5
	got.Cooldown = 2 * time.Minute
	got.OpenUntil = &openUntil
	require.NoError(t, s.UpdateSubscription(ctx, got))

	got, err = s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, webhook.CircuitOpen, got.CircuitState)
	assert.Equal(t, 5, got.FailureCount)
	assert.Equal(t, 2*time.Minute, got.Cooldown)
	require.NotNil(t, got.OpenUntil)
	assert.WithinDuration(t, openUntil, *got.OpenUntil, time.Millisecond)

	second := sub.Clone()
	second.ID = id.NewSubscriptionID()
	second.CreatedAt = now.Add(time.Second)
	require.NoError(t, s.CreateSubscription(ctx, second))

	list, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, sub.ID.String(), list[0].ID.String())

	require.NoError(t, s.DeleteSubscription(ctx, sub.ID))
	_, err = s.GetSubscription(ctx, sub.ID)
	assert.True(t, errors.Is(err, renderq.ErrSubscriptionNotFound))
	assert.True(t, errors.Is(s.DeleteSubscription(ctx, sub.ID), renderq.ErrSubscriptionNotFound))
	missing := sub.Clone()
	missing.ID = id.NewSubscriptionID()
	assert.True(t, errors.Is(s.UpdateSubscription(ctx, missing), renderq.ErrSubscriptionNotFound))
}
