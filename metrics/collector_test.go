package metrics_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/metrics"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func edge(from, to job.State, latency time.Duration) event.Transition {
	return event.Transition{
		From:         from,
		To:           to,
		JobCreatedAt: epoch,
		At:           epoch.Add(latency),
	}
}

// lifecycle records submit, start and the given outcome for one job.
func lifecycle(c *metrics.Collector, outcome job.State, latency time.Duration) {
	c.Record(edge("", job.StateQueued, 0))
	c.Record(edge(job.StateQueued, job.StateActive, 0))
	c.Record(edge(job.StateActive, outcome, latency))
}

func TestCountsFollowTransitions(t *testing.T) {
	c := metrics.New()

	c.Record(edge("", job.StateQueued, 0))
	c.Record(edge("", job.StateQueued, 0))
	c.Record(edge(job.StateQueued, job.StateActive, 0))

	s := c.Snapshot()
	assert.Equal(t, int64(1), s.Counts[job.StateQueued])
	assert.Equal(t, int64(1), s.Counts[job.StateActive])
	assert.Equal(t, int64(2), s.Entered[job.StateQueued])

	c.Record(edge(job.StateActive, job.StateFailed, 0))
	c.Record(edge(job.StateFailed, job.StateQueued, 0))

	s = c.Snapshot()
	assert.Equal(t, int64(2), s.Counts[job.StateQueued])
	assert.Zero(t, s.Counts[job.StateActive])
	assert.Zero(t, s.Counts[job.StateFailed])
	assert.Equal(t, int64(1), s.Entered[job.StateFailed])
	assert.Equal(t, int64(3), s.Entered[job.StateQueued])
}

func TestLatencyPercentiles(t *testing.T) {
	c := metrics.New()
	for i := 1; i <= 100; i++ {
		lifecycle(c, job.StateCompleted, time.Duration(i)*time.Millisecond)
	}

	s := c.Snapshot()
	assert.Equal(t, 100, s.Samples)
	assert.Zero(t, s.Dropped)
	assert.Equal(t, 50*time.Millisecond, s.P50)
	assert.Equal(t, 95*time.Millisecond, s.P95)
	assert.Equal(t, 50500*time.Microsecond, s.Avg)
	assert.Equal(t, int64(100), s.Counts[job.StateCompleted])
}

func TestRingOverwritesOldest(t *testing.T) {
	c := metrics.NewWithCapacity(10)
	for range 10 {
		lifecycle(c, job.StateCompleted, time.Hour)
	}
	for range 10 {
		lifecycle(c, job.StateCompleted, time.Second)
	}

	s := c.Snapshot()
	assert.Equal(t, 10, s.Samples)
	assert.Equal(t, int64(10), s.Dropped)
	assert.Equal(t, time.Second, s.P95, "old samples must be gone")
}

func TestOnlyCompletionsAreSampled(t *testing.T) {
	c := metrics.New()
	lifecycle(c, job.StateCancelled, time.Minute)
	c.Record(edge(job.StateActive, job.StateFailed, time.Minute))

	s := c.Snapshot()
	assert.Zero(t, s.Samples)
	assert.Zero(t, s.P50)
}

func TestSuccessRate(t *testing.T) {
	c := metrics.New()
	assert.Zero(t, c.Snapshot().SuccessRate)

	for range 3 {
		lifecycle(c, job.StateCompleted, time.Second)
	}
	c.Record(edge(job.StateFailed, job.StateDeadLettered, 0))
	lifecycle(c, job.StateCancelled, 0)

	assert.InDelta(t, 0.75, c.Snapshot().SuccessRate, 1e-9)
}

func TestSeedAndReset(t *testing.T) {
	c := metrics.New()
	c.Seed(map[job.State]int64{job.StateQueued: 7, job.StateCompleted: 3})
	c.Record(edge(job.StateQueued, job.StateActive, 0))
	require.NoError(t, c.OnJobProgress(context.Background(), event.Progress{Percent: 10}))

	s := c.Snapshot()
	assert.Equal(t, int64(6), s.Counts[job.StateQueued])
	assert.Equal(t, int64(1), s.Counts[job.StateActive])
	assert.Equal(t, int64(3), s.Counts[job.StateCompleted])
	assert.Equal(t, int64(1), s.ProgressReports)

	c.Reset()
	s = c.Snapshot()
	for _, state := range job.States {
		assert.Zero(t, s.Counts[state], state)
		assert.Zero(t, s.Entered[state], state)
	}
	assert.Zero(t, s.Samples)
	assert.Zero(t, s.ProgressReports)
}

func TestCountsNeverNegative(t *testing.T) {
	c := metrics.New()
	// A transition for a job that existed before the collector started.
	c.Record(edge(job.StateActive, job.StateCompleted, time.Second))
	assert.Zero(t, c.Snapshot().Counts[job.StateActive])
}

func TestConcurrentRecordAndSnapshot(t *testing.T) {
	c := metrics.NewWithCapacity(64)
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				lifecycle(c, job.StateCompleted, time.Duration(w*200+i)*time.Microsecond)
				if i%50 == 0 {
					_ = c.Snapshot()
				}
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	assert.Equal(t, int64(1600), s.Entered[job.StateCompleted])
	assert.Equal(t, int64(1600), s.Counts[job.StateCompleted])
	assert.Zero(t, s.Counts[job.StateQueued])
	assert.Equal(t, 64, s.Samples)
	assert.Equal(t, int64(1600-64), s.Dropped)
	assert.LessOrEqual(t, s.P50, s.P95)
}
