package retry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/renderq/backoff"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/retry"
)

func TestDecide_RetriesUntilBudgetSpent(t *testing.T) {
	p := retry.NewPolicy(backoff.NewBounded(time.Second, time.Minute, 0))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	j := &job.Job{MaxAttempts: 3}
	wantDelays := []time.Duration{2 * time.Second, 4 * time.Second}
	for i, want := range wantDelays {
		j.Attempt = i + 1
		d := p.Decide(j, now)
		require.True(t, d.Retry, "attempt %d", j.Attempt)
		assert.Equal(t, want, d.Delay)
		assert.Equal(t, now.Add(want), d.NextEligibleAt)

		tr := d.Transition()
		assert.Equal(t, job.StateFailed, tr.From)
		assert.Equal(t, job.StateQueued, tr.To)
	}

	j.Attempt = 3
	d := p.Decide(j, now)
	assert.False(t, d.Retry)
	assert.Equal(t, job.StateDeadLettered, d.Transition().To)
}

func TestDecide_SingleAttemptBudget(t *testing.T) {
	p := retry.NewPolicy(nil)
	d := p.Decide(&job.Job{Attempt: 1, MaxAttempts: 1}, time.Now())
	assert.False(t, d.Retry)
}

func TestDecide_DefaultBackoffWithinJitter(t *testing.T) {
	p := retry.NewPolicy(nil)
	for range 100 {
		d := p.Decide(&job.Job{Attempt: 1, MaxAttempts: 3}, time.Now())
		require.True(t, d.Retry)
		assert.GreaterOrEqual(t, d.Delay, 8*time.Second)
		assert.LessOrEqual(t, d.Delay, 12*time.Second)
	}
}
