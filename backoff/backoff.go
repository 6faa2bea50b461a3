// Package backoff provides pluggable retry delay strategies. Render job
// retries and webhook delivery retries both draw from it. All strategies
// are safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait after the nth failed attempt
	// (1-indexed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear waits Step longer after each failed attempt, up to Max.
type Linear struct {
	Step time.Duration
	Max  time.Duration
}

// NewLinear returns a strategy waiting step, 2*step, 3*step, ... up to
// maxDelay.
func NewLinear(step, maxDelay time.Duration) *Linear {
	return &Linear{Step: step, Max: maxDelay}
}

func (l *Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := l.Step * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		d = l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// FullJitter
// ──────────────────────────────────────────────────

// FullJitter draws each delay uniformly from zero up to the exponential
// ceiling. Render farms restarting after an outage spread their retries
// over the whole window instead of around its centre.
type FullJitter struct {
	Exponential

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// NewFullJitter returns a strategy drawing from [0, min(initial*2^(n-1), maxDelay)).
func NewFullJitter(initial, maxDelay time.Duration) *FullJitter {
	return &FullJitter{Exponential: Exponential{Initial: initial, Max: maxDelay}}
}

func (f *FullJitter) Delay(attempt int) time.Duration {
	r := f.Rand
	if r == nil {
		r = rand.Float64 //nolint:gosec // jitter intentionally uses non-crypto rand
	}
	return time.Duration(r() * float64(f.Exponential.Delay(attempt)))
}

// ──────────────────────────────────────────────────
// Bounded (proportional jitter)
// ──────────────────────────────────────────────────

// Bounded grows exponentially from Base and spreads each delay by a
// proportional jitter.
// Delay = clamp(min(Base * 2^attempt, Max) * (1 ± Jitter), 0, Max).
type Bounded struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// NewBounded creates a bounded exponential strategy with ±jitter.
func NewBounded(base, maxDelay time.Duration, jitter float64) *Bounded {
	return &Bounded{Base: base, Max: maxDelay, Jitter: jitter}
}

// Unjittered returns min(Base * 2^attempt, Max), the centre of the jitter
// window. It is non-decreasing in attempt.
func (b *Bounded) Unjittered(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

// Delay returns Unjittered(attempt) scaled by a random factor in
// [1-Jitter, 1+Jitter), never above Max.
func (b *Bounded) Delay(attempt int) time.Duration {
	d := float64(b.Unjittered(attempt))
	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64 //nolint:gosec // jitter intentionally uses non-crypto rand
		}
		d *= 1 + b.Jitter*(2*r()-1)
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// Named strategies
// ──────────────────────────────────────────────────

// Strategy names accepted by New.
const (
	NameBounded     = "bounded"
	NameExponential = "exponential"
	NameFullJitter  = "full_jitter"
	NameLinear      = "linear"
	NameConstant    = "constant"
)

// Names lists the strategies New accepts.
var Names = []string{NameBounded, NameExponential, NameFullJitter, NameLinear, NameConstant}

// New builds a strategy by name. An empty name selects bounded. base is the
// first delay (the step for linear, the interval for constant) and maxDelay
// the cap; jitter only applies to bounded.
func New(name string, base, maxDelay time.Duration, jitter float64) (Strategy, error) {
	switch name {
	case "", NameBounded:
		return NewBounded(base, maxDelay, jitter), nil
	case NameExponential:
		return NewExponential(base, maxDelay), nil
	case NameFullJitter:
		return NewFullJitter(base, maxDelay), nil
	case NameLinear:
		return NewLinear(base, maxDelay), nil
	case NameConstant:
		return NewConstant(base), nil
	}
	return nil, errors.Newf("unknown backoff strategy %q, want one of %v", name, Names)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default render retry backoff: 5s base doubled
// per attempt, capped at 5m, with ±20% jitter.
func DefaultStrategy() Strategy {
	return NewBounded(5*time.Second, 5*time.Minute, 0.2)
}
