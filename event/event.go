// Package event defines the immutable events published on every job state
// transition and progress report. Events are values: subscribers receive
// copies and can never reach back into job state.
package event

import (
	"time"

	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

// Type names a transition for webhook filters and message routing.
type Type string

const (
	TypeQueued       Type = "render.queued"
	TypeStarted      Type = "render.started"
	TypeCompleted    Type = "render.completed"
	TypeFailed       Type = "render.failed"
	TypeRetrying     Type = "render.retrying"
	TypeDeadLettered Type = "render.dead_lettered"
	TypeCancelled    Type = "render.cancelled"
	TypeProgress     Type = "render.progress"
)

// TransitionTypes lists every type a Transition can carry.
var TransitionTypes = []Type{
	TypeQueued, TypeStarted, TypeCompleted, TypeFailed,
	TypeRetrying, TypeDeadLettered, TypeCancelled,
}

// Valid reports whether t is a known transition or progress type.
func (t Type) Valid() bool {
	if t == TypeProgress {
		return true
	}
	for _, known := range TransitionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Transition records one state change of a job. From is empty for the
// submission event.
type Transition struct {
	ID           id.EventID   `json:"id"`
	JobID        id.JobID     `json:"job_id"`
	JobKind      string       `json:"job_kind,omitempty"`
	Priority     job.Priority `json:"priority"`
	From         job.State    `json:"from_state,omitempty"`
	To           job.State    `json:"to_state"`
	Attempt      int          `json:"attempt"`
	MaxAttempts  int          `json:"max_attempts"`
	Error        string       `json:"error,omitempty"`
	JobCreatedAt time.Time    `json:"job_created_at"`
	At           time.Time    `json:"timestamp"`
}

// NewTransition builds the event for j having just left from. j must
// already reflect the new state.
func NewTransition(from job.State, j *job.Job) Transition {
	return Transition{
		ID:           id.NewEventID(),
		JobID:        j.ID,
		JobKind:      j.Kind,
		Priority:     j.Priority,
		From:         from,
		To:           j.State,
		Attempt:      j.Attempt,
		MaxAttempts:  j.MaxAttempts,
		Error:        j.LastError,
		JobCreatedAt: j.CreatedAt,
		At:           j.UpdatedAt.UTC(),
	}
}

// Type maps the edge to its event type.
func (t Transition) Type() Type {
	switch t.To {
	case job.StateQueued:
		if t.From == job.StateFailed {
			return TypeRetrying
		}
		return TypeQueued
	case job.StateActive:
		return TypeStarted
	case job.StateCompleted:
		return TypeCompleted
	case job.StateFailed:
		return TypeFailed
	case job.StateDeadLettered:
		return TypeDeadLettered
	case job.StateCancelled:
		return TypeCancelled
	}
	return Type("render." + string(t.To))
}

// Latency is the time from submission to this event.
func (t Transition) Latency() time.Duration {
	if t.JobCreatedAt.IsZero() {
		return 0
	}
	return t.At.Sub(t.JobCreatedAt)
}

// Progress records a progress report of an active job.
type Progress struct {
	ID      id.EventID `json:"id"`
	JobID   id.JobID   `json:"job_id"`
	Attempt int        `json:"attempt"`
	Percent int        `json:"percent"`
	Stage   string     `json:"stage,omitempty"`
	At      time.Time  `json:"timestamp"`
}

// NewProgress builds a progress event from the job's current progress.
func NewProgress(j *job.Job) Progress {
	return Progress{
		ID:      id.NewEventID(),
		JobID:   j.ID,
		Attempt: j.Attempt,
		Percent: j.Progress,
		Stage:   j.Stage,
		At:      j.UpdatedAt.UTC(),
	}
}

// SubscriptionAction names a webhook registry change.
type SubscriptionAction string

const (
	SubscriptionRegistered   SubscriptionAction = "registered"
	SubscriptionUnregistered SubscriptionAction = "unregistered"
)

// SubscriptionChange records a webhook registry change.
type SubscriptionChange struct {
	SubscriptionID id.SubscriptionID  `json:"subscription_id"`
	URL            string             `json:"url"`
	Action         SubscriptionAction `json:"action"`
	At             time.Time          `json:"timestamp"`
}
