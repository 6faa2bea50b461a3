package job_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

func newQueued() *job.Job {
	return &job.Job{
		Entity:      renderq.NewEntity(),
		ID:          id.NewJobID(),
		State:       job.StateQueued,
		Priority:    job.PriorityNormal,
		MaxAttempts: 3,
	}
}

func TestCanTransition(t *testing.T) {
	legal := map[[2]job.State]bool{
		{job.StateQueued, job.StateActive}:       true,
		{job.StateQueued, job.StateCancelled}:    true,
		{job.StateActive, job.StateCompleted}:    true,
		{job.StateActive, job.StateFailed}:       true,
		{job.StateActive, job.StateCancelled}:    true,
		{job.StateFailed, job.StateQueued}:       true,
		{job.StateFailed, job.StateDeadLettered}: true,
	}
	for _, from := range job.States {
		for _, to := range job.States {
			assert.Equal(t, legal[[2]job.State{from, to}], job.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatesRejectEveryTransition(t *testing.T) {
	for _, terminal := range []job.State{job.StateCompleted, job.StateDeadLettered, job.StateCancelled} {
		for _, to := range job.States {
			j := newQueued()
			j.State = terminal
			before := *j
			err := job.Transition{From: terminal, To: to}.Apply(j, time.Now())
			require.Error(t, err)
			assert.True(t, errors.Is(err, renderq.ErrConflict), "%s -> %s: %v", terminal, to, err)
			assert.True(t, errors.Is(err, renderq.ErrAlreadyTerminal))
			assert.Equal(t, before, *j, "job mutated on rejected transition")
		}
	}
}

func TestApplyStaleFromConflicts(t *testing.T) {
	j := newQueued()
	err := job.Transition{From: job.StateActive, To: job.StateCompleted}.Apply(j, time.Now())
	require.True(t, errors.Is(err, renderq.ErrConflict))
	assert.Equal(t, job.StateQueued, j.State)
}

func TestApplyIllegalEdge(t *testing.T) {
	j := newQueued()
	err := job.Transition{From: job.StateQueued, To: job.StateCompleted}.Apply(j, time.Now())
	require.True(t, errors.Is(err, renderq.ErrInvalidTransition))
	assert.True(t, errors.Is(err, renderq.ErrConflict))
}

func TestApplyAttemptGuard(t *testing.T) {
	j := newQueued()
	now := time.Now()
	require.NoError(t, job.Transition{From: job.StateQueued, To: job.StateActive}.Apply(j, now))
	require.Equal(t, 1, j.Attempt)

	err := job.Transition{From: job.StateActive, To: job.StateCompleted, Attempt: 2}.Apply(j, now)
	require.True(t, errors.Is(err, renderq.ErrConflict))
	assert.Equal(t, job.StateActive, j.State)

	require.NoError(t, job.Transition{From: job.StateActive, To: job.StateCompleted, Attempt: 1}.Apply(j, now))
}

func TestApplyLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	worker := id.NewWorkerID()
	j := newQueued()

	require.NoError(t, job.Transition{From: job.StateQueued, To: job.StateActive, WorkerID: worker}.Apply(j, now))
	assert.Equal(t, 1, j.Attempt)
	assert.Equal(t, worker.String(), j.WorkerID.String())
	require.NotNil(t, j.StartedAt)

	j.Progress = 40
	require.NoError(t, job.Transition{From: job.StateActive, To: job.StateFailed, Error: "boom"}.Apply(j, now))
	assert.Equal(t, "boom", j.LastError)

	retryAt := now.Add(10 * time.Second)
	require.NoError(t, job.Transition{From: job.StateFailed, To: job.StateQueued, NextEligibleAt: retryAt}.Apply(j, now))
	assert.Equal(t, retryAt, j.NextEligibleAt)
	assert.True(t, j.WorkerID.IsNil())
	assert.False(t, j.Eligible(now))
	assert.True(t, j.Eligible(retryAt))

	require.NoError(t, job.Transition{From: job.StateQueued, To: job.StateActive, WorkerID: worker}.Apply(j, retryAt))
	assert.Equal(t, 2, j.Attempt)
	assert.Zero(t, j.Progress, "progress resets on a new attempt")

	require.NoError(t, job.Transition{From: job.StateActive, To: job.StateCompleted}.Apply(j, retryAt))
	assert.Empty(t, j.LastError)
	assert.Equal(t, 100, j.Progress)
	require.NotNil(t, j.CompletedAt)
	assert.True(t, j.State.IsTerminal())
}

func TestApplyNeverExceedsMaxAttempts(t *testing.T) {
	j := newQueued()
	j.MaxAttempts = 2
	now := time.Now()
	for i := range 2 {
		require.NoError(t, job.Transition{From: job.StateQueued, To: job.StateActive}.Apply(j, now), "attempt %d", i+1)
		require.NoError(t, job.Transition{From: job.StateActive, To: job.StateFailed}.Apply(j, now))
		require.NoError(t, job.Transition{From: job.StateFailed, To: job.StateQueued}.Apply(j, now))
	}
	err := job.Transition{From: job.StateQueued, To: job.StateActive}.Apply(j, now)
	require.True(t, errors.Is(err, renderq.ErrInvalidTransition))
	assert.Equal(t, 2, j.Attempt)
}

func TestApplyProgress(t *testing.T) {
	now := time.Now()
	j := newQueued()
	_, err := job.ApplyProgress(j, 0, 10, "", now)
	require.True(t, errors.Is(err, renderq.ErrConflict), "progress on a queued job")

	require.NoError(t, job.Transition{From: job.StateQueued, To: job.StateActive}.Apply(j, now))

	changed, err := job.ApplyProgress(j, 1, 30, "rendering", now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = job.ApplyProgress(j, 1, 20, "", now)
	require.NoError(t, err)
	assert.False(t, changed, "decrease must be ignored")
	assert.Equal(t, 30, j.Progress)

	changed, err = job.ApplyProgress(j, 1, 250, "uploading", now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 100, j.Progress)
	assert.Equal(t, "uploading", j.Stage)

	_, err = job.ApplyProgress(j, 2, 100, "", now)
	require.True(t, errors.Is(err, renderq.ErrConflict), "stale attempt")
}

func TestPriorityOrderingAndText(t *testing.T) {
	assert.True(t, job.PriorityUrgent > job.PriorityHigh)
	assert.True(t, job.PriorityHigh > job.PriorityNormal)
	assert.True(t, job.PriorityNormal > job.PriorityLow)

	for _, p := range job.Priorities {
		data, err := p.MarshalText()
		require.NoError(t, err)
		var back job.Priority
		require.NoError(t, back.UnmarshalText(data))
		assert.Equal(t, p, back)
	}

	p, err := job.ParsePriority("HIGH")
	require.NoError(t, err)
	assert.Equal(t, job.PriorityHigh, p)

	_, err = job.ParsePriority("critical")
	assert.True(t, errors.Is(err, renderq.ErrInvalidPriority))
}

func TestLessOrdersByPriorityThenSeq(t *testing.T) {
	a := &job.Job{Priority: job.PriorityHigh, Seq: 9}
	b := &job.Job{Priority: job.PriorityNormal, Seq: 1}
	c := &job.Job{Priority: job.PriorityNormal, Seq: 2}
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(b))
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	j := newQueued()
	j.Payload = []byte(`{"scene":1}`)
	j.StartedAt = &now
	cp := j.Clone()
	cp.Payload[0] = 'X'
	*cp.StartedAt = now.Add(time.Hour)
	assert.Equal(t, byte('{'), j.Payload[0])
	assert.Equal(t, now, *j.StartedAt)
}
