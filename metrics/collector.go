package metrics

import (
	"context"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/ext"
	"github.com/xraph/renderq/job"
)

// DefaultCapacity is the number of latency samples kept by New.
const DefaultCapacity = 1024

// Compile-time checks.
var (
	_ ext.Extension       = (*Collector)(nil)
	_ ext.JobTransitioned = (*Collector)(nil)
	_ ext.JobProgressed   = (*Collector)(nil)
)

// Snapshot is a point-in-time copy of the collector.
type Snapshot struct {
	// Counts is the number of jobs currently in each state.
	Counts map[job.State]int64 `json:"counts"`
	// Entered is how many times each state was entered since start.
	Entered map[job.State]int64 `json:"entered"`

	// P50, P95 and Avg summarise the retained latency samples.
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	Avg time.Duration `json:"avg"`

	// SuccessRate is completed / (completed + dead_lettered). Cancelled
	// jobs are not counted either way.
	SuccessRate float64 `json:"success_rate"`

	// Samples is the number of retained latency samples and Dropped the
	// number overwritten by newer ones.
	Samples int   `json:"samples"`
	Dropped int64 `json:"dropped"`

	ProgressReports int64     `json:"progress_reports"`
	At              time.Time `json:"at"`
}

// Collector aggregates transition events into counters and a latency ring.
type Collector struct {
	counts  [len(stateOrder)]atomic.Int64
	entered [len(stateOrder)]atomic.Int64

	ring []atomic.Int64
	next atomic.Uint64

	progress atomic.Int64
}

var stateOrder = [...]job.State{
	job.StateQueued,
	job.StateActive,
	job.StateCompleted,
	job.StateFailed,
	job.StateDeadLettered,
	job.StateCancelled,
}

func stateIndex(s job.State) int {
	for i, known := range stateOrder {
		if known == s {
			return i
		}
	}
	return -1
}

// New creates a collector retaining DefaultCapacity latency samples.
func New() *Collector { return NewWithCapacity(DefaultCapacity) }

// NewWithCapacity creates a collector retaining up to n latency samples.
func NewWithCapacity(n int) *Collector {
	if n < 1 {
		n = 1
	}
	return &Collector{ring: make([]atomic.Int64, n)}
}

// Name implements ext.Extension.
func (c *Collector) Name() string { return "metrics" }

// OnJobTransition implements ext.JobTransitioned.
func (c *Collector) OnJobTransition(_ context.Context, t event.Transition) error {
	c.Record(t)
	return nil
}

// OnJobProgress implements ext.JobProgressed.
func (c *Collector) OnJobProgress(_ context.Context, p event.Progress) error {
	c.RecordProgress(p)
	return nil
}

// Record accounts for one transition.
func (c *Collector) Record(t event.Transition) {
	if i := stateIndex(t.From); i >= 0 {
		c.counts[i].Add(-1)
	}
	i := stateIndex(t.To)
	if i < 0 {
		return
	}
	c.counts[i].Add(1)
	c.entered[i].Add(1)

	if t.To == job.StateCompleted {
		if d := t.Latency(); d >= 0 {
			c.observe(d)
		}
	}
}

// RecordProgress accounts for one progress report.
func (c *Collector) RecordProgress(event.Progress) {
	c.progress.Add(1)
}

// observe stores a latency sample, overwriting the oldest once full.
func (c *Collector) observe(d time.Duration) {
	n := c.next.Add(1) - 1
	c.ring[n%uint64(len(c.ring))].Store(int64(d))
}

// Seed sets the current per-state gauges, typically from the store's
// counts when the process starts.
func (c *Collector) Seed(counts map[job.State]int64) {
	for s, n := range counts {
		if i := stateIndex(s); i >= 0 {
			c.counts[i].Store(n)
		}
	}
}

// Reset zeroes every counter and discards the latency samples.
func (c *Collector) Reset() {
	for i := range stateOrder {
		c.counts[i].Store(0)
		c.entered[i].Store(0)
	}
	c.next.Store(0)
	for i := range c.ring {
		c.ring[i].Store(0)
	}
	c.progress.Store(0)
}

// Snapshot aggregates the current state. It allocates; recording does not.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		Counts:          make(map[job.State]int64, len(stateOrder)),
		Entered:         make(map[job.State]int64, len(stateOrder)),
		ProgressReports: c.progress.Load(),
		At:              time.Now().UTC(),
	}
	for i, state := range stateOrder {
		s.Counts[state] = max(c.counts[i].Load(), 0)
		s.Entered[state] = c.entered[i].Load()
	}

	completed := s.Entered[job.StateCompleted]
	if done := completed + s.Entered[job.StateDeadLettered]; done > 0 {
		s.SuccessRate = float64(completed) / float64(done)
	}

	written := c.next.Load()
	n := min(written, uint64(len(c.ring)))
	s.Samples = int(n)
	s.Dropped = int64(written - n)
	if n == 0 {
		return s
	}

	samples := make([]time.Duration, n)
	var sum time.Duration
	for i := range samples {
		samples[i] = time.Duration(c.ring[i].Load())
		sum += samples[i]
	}
	slices.Sort(samples)
	s.P50 = percentile(samples, 0.50)
	s.P95 = percentile(samples, 0.95)
	s.Avg = sum / time.Duration(n)
	return s
}

// percentile returns the nearest-rank percentile of sorted samples.
func percentile(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}
