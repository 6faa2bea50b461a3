package job

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateQueued means the job waits for a free worker slot.
	StateQueued State = "queued"
	// StateActive means exactly one worker slot is executing the job.
	StateActive State = "active"
	// StateCompleted means the task finished successfully.
	StateCompleted State = "completed"
	// StateFailed is transient: the attempt failed and the retry policy
	// has not yet decided between a retry and the dead letter queue.
	StateFailed State = "failed"
	// StateDeadLettered means every attempt failed.
	StateDeadLettered State = "dead_lettered"
	// StateCancelled means the job was cancelled explicitly or reclaimed
	// after the hard timeout.
	StateCancelled State = "cancelled"
)

// States lists every job state.
var States = []State{
	StateQueued, StateActive, StateCompleted,
	StateFailed, StateDeadLettered, StateCancelled,
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateDeadLettered || s == StateCancelled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// Priority orders jobs for dispatch. Higher values are dispatched first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = [...]string{"low", "normal", "high", "urgent"}

// Priorities lists the tiers from most to least urgent.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports whether p is a known tier.
func (p Priority) Valid() bool { return p >= PriorityLow && p <= PriorityUrgent }

func (p Priority) String() string {
	if !p.Valid() {
		return "unknown"
	}
	return priorityNames[p]
}

// ParsePriority parses a tier name. The empty string means normal.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	for i, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(i), nil
		}
	}
	return 0, errors.Wrapf(renderq.ErrInvalidPriority, "%q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, errors.Wrapf(renderq.ErrInvalidPriority, "%d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(data []byte) error {
	parsed, err := ParsePriority(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Job is a render request tracked from submission to a terminal state.
type Job struct {
	renderq.Entity

	ID             id.JobID      `json:"id"`
	Kind           string        `json:"kind,omitempty"`
	Payload        []byte        `json:"payload"`
	State          State         `json:"state"`
	Priority       Priority      `json:"priority"`
	Seq            int64         `json:"seq"`
	Attempt        int           `json:"attempt"`
	MaxAttempts    int           `json:"max_attempts"`
	Progress       int           `json:"progress"`
	Stage          string        `json:"stage,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	WorkerID       id.WorkerID   `json:"worker_id,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	NextEligibleAt time.Time     `json:"next_eligible_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt    *time.Time    `json:"heartbeat_at,omitempty"`
}

// Eligible reports whether a queued job may be dispatched at now.
func (j *Job) Eligible(now time.Time) bool {
	return j.State == StateQueued && !j.NextEligibleAt.After(now)
}

// Less reports whether j is dispatched before o: higher priority first,
// then lower submission sequence.
func (j *Job) Less(o *Job) bool {
	if j.Priority != o.Priority {
		return j.Priority > o.Priority
	}
	return j.Seq < o.Seq
}

// Clone returns a deep copy so callers never share mutable state with a
// store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.HeartbeatAt = cloneTime(j.HeartbeatAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
