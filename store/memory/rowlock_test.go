package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

func newQueued() *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		Entity:         renderq.Entity{CreatedAt: now, UpdatedAt: now},
		ID:             id.NewJobID(),
		Kind:           "render",
		Payload:        []byte(`{}`),
		State:          job.StateQueued,
		Priority:       job.PriorityNormal,
		MaxAttempts:    3,
		NextEligibleAt: now,
	}
}

func TestRowLockDoesNotBlockOtherJobs(t *testing.T) {
	m := New()
	ctx := context.Background()
	held, other := newQueued(), newQueued()
	require.NoError(t, m.EnqueueJob(ctx, held))
	require.NoError(t, m.EnqueueJob(ctx, other))

	r, err := m.row(held.ID)
	require.NoError(t, err)
	r.mu.Lock()

	done := make(chan error, 1)
	go func() {
		_, err := m.CancelJob(ctx, other.ID)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		r.mu.Unlock()
		t.Fatal("cancel of an unrelated job waited on another job's row lock")
	}

	blocked := make(chan error, 1)
	go func() {
		_, err := m.CancelJob(ctx, held.ID)
		blocked <- err
	}()
	select {
	case <-blocked:
		t.Fatal("cancel of the held job did not wait for its row lock")
	case <-time.After(20 * time.Millisecond):
	}
	r.mu.Unlock()
	require.NoError(t, <-blocked)

	got, err := m.GetJob(ctx, held.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCancelled, got.State)
}
