package job

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/id"
)

// transitions is the complete set of legal edges. Anything else conflicts.
var transitions = map[State][]State{
	StateQueued: {StateActive, StateCancelled},
	StateActive: {StateCompleted, StateFailed, StateCancelled},
	StateFailed: {StateQueued, StateDeadLettered},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is a compare-and-set request: it applies only while the job is
// still in From. The optional fields feed the mutations of the target
// state.
type Transition struct {
	From State
	To   State

	// Error becomes LastError when entering failed or cancelled.
	Error string
	// NextEligibleAt gates dispatch when re-entering queued.
	NextEligibleAt time.Time
	// WorkerID is the slot taking the job when entering active.
	WorkerID id.WorkerID
	// Attempt, when non-zero, additionally requires the job to still be on
	// this attempt. Outcomes of a reclaimed or reaped attempt then never
	// land on a later one.
	Attempt int
}

// Apply validates the transition against j and mutates it in place. Every
// store backend calls Apply inside its own atomic section so that all of
// them share the same semantics. j is left untouched on error.
func (t Transition) Apply(j *Job, now time.Time) error {
	now = now.UTC()
	if j.State.IsTerminal() {
		return errors.Wrapf(renderq.ErrAlreadyTerminal, "job %s is %s", j.ID, j.State)
	}
	if j.State != t.From {
		return errors.Wrapf(renderq.ErrConflict, "job %s is %s, expected %s", j.ID, j.State, t.From)
	}
	if t.Attempt != 0 && j.Attempt != t.Attempt {
		return errors.Wrapf(renderq.ErrConflict, "job %s is on attempt %d, expected %d", j.ID, j.Attempt, t.Attempt)
	}
	if !CanTransition(t.From, t.To) {
		return errors.Wrapf(renderq.ErrInvalidTransition, "%s -> %s", t.From, t.To)
	}

	switch t.To {
	case StateActive:
		if j.Attempt >= j.MaxAttempts {
			return errors.Wrapf(renderq.ErrInvalidTransition,
				"job %s has used %d of %d attempts", j.ID, j.Attempt, j.MaxAttempts)
		}
		j.Attempt++
		j.Progress = 0
		j.Stage = ""
		j.WorkerID = t.WorkerID
		j.StartedAt = &now
		j.HeartbeatAt = &now
	case StateCompleted:
		j.LastError = ""
		j.Progress = 100
		j.CompletedAt = &now
		j.HeartbeatAt = nil
	case StateFailed:
		j.LastError = t.Error
		j.HeartbeatAt = nil
	case StateQueued:
		j.NextEligibleAt = t.NextEligibleAt.UTC()
		if t.NextEligibleAt.IsZero() {
			j.NextEligibleAt = now
		}
		j.WorkerID = id.Nil
		j.StartedAt = nil
	case StateDeadLettered:
		j.CompletedAt = &now
	case StateCancelled:
		if t.Error != "" {
			j.LastError = t.Error
		}
		j.CompletedAt = &now
		j.HeartbeatAt = nil
	}

	j.State = t.To
	j.Touch(now)
	return nil
}

// CancelFrom builds the cancel transition for a job currently in state s.
func CancelFrom(s State) Transition {
	return Transition{From: s, To: StateCancelled}
}

// ApplyProgress records a progress report for the given attempt. Values are
// clamped to 0-100 and decreases are ignored. It reports whether j changed.
func ApplyProgress(j *Job, attempt, percent int, stage string, now time.Time) (bool, error) {
	if j.State != StateActive {
		return false, errors.Wrapf(renderq.ErrConflict, "job %s is %s, not active", j.ID, j.State)
	}
	if attempt != j.Attempt {
		return false, errors.Wrapf(renderq.ErrConflict, "stale progress for attempt %d, job is on %d", attempt, j.Attempt)
	}
	percent = ClampProgress(percent)
	if percent < j.Progress || (percent == j.Progress && (stage == "" || stage == j.Stage)) {
		return false, nil
	}
	j.Progress = percent
	if stage != "" {
		j.Stage = stage
	}
	j.Touch(now)
	return true, nil
}

// ClampProgress bounds a reported percentage to 0-100.
func ClampProgress(percent int) int {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	}
	return percent
}
