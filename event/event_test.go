package event_test

import (
	"testing"
	"time"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

func TestTransitionType(t *testing.T) {
	tests := []struct {
		from, to job.State
		want     event.Type
	}{
		{"", job.StateQueued, event.TypeQueued},
		{job.StateQueued, job.StateActive, event.TypeStarted},
		{job.StateActive, job.StateCompleted, event.TypeCompleted},
		{job.StateActive, job.StateFailed, event.TypeFailed},
		{job.StateFailed, job.StateQueued, event.TypeRetrying},
		{job.StateFailed, job.StateDeadLettered, event.TypeDeadLettered},
		{job.StateQueued, job.StateCancelled, event.TypeCancelled},
		{job.StateActive, job.StateCancelled, event.TypeCancelled},
	}
	for _, tt := range tests {
		got := event.Transition{From: tt.from, To: tt.to}.Type()
		if got != tt.want {
			t.Errorf("%q -> %q = %q, want %q", tt.from, tt.to, got, tt.want)
		}
		if !got.Valid() {
			t.Errorf("%q reported invalid", got)
		}
	}
	if event.Type("render.bogus").Valid() {
		t.Error("unknown type reported valid")
	}
}

func TestNewTransitionSnapshotsJob(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	j := &job.Job{
		Entity:      renderq.Entity{CreatedAt: created, UpdatedAt: created.Add(90 * time.Second)},
		ID:          id.NewJobID(),
		Kind:        "video",
		State:       job.StateCompleted,
		Priority:    job.PriorityHigh,
		Attempt:     2,
		MaxAttempts: 3,
	}
	evt := event.NewTransition(job.StateActive, j)
	j.State = job.StateCancelled

	if evt.To != job.StateCompleted || evt.From != job.StateActive {
		t.Errorf("edge = %s -> %s", evt.From, evt.To)
	}
	if evt.Latency() != 90*time.Second {
		t.Errorf("Latency = %v, want 90s", evt.Latency())
	}
	if evt.ID.Prefix() != id.PrefixEvent {
		t.Errorf("event id prefix = %q", evt.ID.Prefix())
	}
}
