// Package retry decides what happens to a job after a failed attempt:
// requeue after a backoff delay, or dead-letter once the attempt budget is
// spent.
package retry

import (
	"time"

	"github.com/xraph/renderq/backoff"
	"github.com/xraph/renderq/job"
)

// Decision is the outcome of a failed attempt.
type Decision struct {
	// Retry is false when the job must be dead-lettered.
	Retry bool
	// Delay is the backoff before the next attempt.
	Delay time.Duration
	// NextEligibleAt is now + Delay.
	NextEligibleAt time.Time
}

// Policy maps a failed job to a Decision.
type Policy struct {
	backoff backoff.Strategy
}

// NewPolicy creates a policy. A nil strategy uses backoff.DefaultStrategy.
func NewPolicy(bo backoff.Strategy) *Policy {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	return &Policy{backoff: bo}
}

// Decide inspects a job that has just entered failed. Attempt is the number
// of attempts already made, so the first failure asks the strategy for
// Delay(1).
func (p *Policy) Decide(j *job.Job, now time.Time) Decision {
	if j.Attempt >= j.MaxAttempts {
		return Decision{}
	}
	delay := p.backoff.Delay(j.Attempt)
	return Decision{
		Retry:          true,
		Delay:          delay,
		NextEligibleAt: now.Add(delay).UTC(),
	}
}

// Transition converts the decision into the store transition out of failed.
func (d Decision) Transition() job.Transition {
	if !d.Retry {
		return job.Transition{From: job.StateFailed, To: job.StateDeadLettered}
	}
	return job.Transition{From: job.StateFailed, To: job.StateQueued, NextEligibleAt: d.NextEligibleAt}
}
