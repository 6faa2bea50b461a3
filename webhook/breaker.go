package webhook

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
)

// Breaker is a per-subscription circuit breaker.
//
//	closed --k consecutive failures--> open
//	open --cooldown elapsed, next Allow--> half_open (one trial)
//	half_open --trial succeeds--> closed, cooldown reset
//	half_open --trial fails--> open, cooldown doubled up to the cap
type Breaker struct {
	mu sync.Mutex

	threshold    int
	baseCooldown time.Duration
	maxCooldown  time.Duration
	now          func() time.Time

	state     CircuitState
	failures  int
	cooldown  time.Duration
	openUntil time.Time
	trial     bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, cooldown, maxCooldown time.Duration, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		threshold:    threshold,
		baseCooldown: cooldown,
		maxCooldown:  maxCooldown,
		now:          now,
		state:        CircuitClosed,
		cooldown:     cooldown,
	}
}

// Allow reports whether a delivery may be attempted now. While open it
// returns an error matching renderq.ErrCircuitOpen. Once the cooldown has
// elapsed exactly one caller is let through as the half-open trial; that
// caller must report the outcome with Success or Failure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Before(b.openUntil) {
			return errors.Wrapf(renderq.ErrCircuitOpen, "open until %s", b.openUntil.Format(time.RFC3339))
		}
		b.state = CircuitHalfOpen
		b.trial = true
		return nil
	case CircuitHalfOpen:
		if b.trial {
			return errors.Wrap(renderq.ErrCircuitOpen, "half-open trial in flight")
		}
		b.trial = true
		return nil
	}
	return nil
}

// Success records a delivered event.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = CircuitClosed
	b.failures = 0
	b.cooldown = b.baseCooldown
	b.openUntil = time.Time{}
	b.trial = false
}

// Failure records a failed delivery.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case CircuitHalfOpen:
		b.cooldown = min(b.cooldown*2, b.maxCooldown)
		b.open()
	case CircuitClosed:
		if b.failures >= b.threshold {
			b.open()
		}
	}
}

func (b *Breaker) open() {
	b.state = CircuitOpen
	b.openUntil = b.now().Add(b.cooldown)
	b.trial = false
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Load restores breaker state persisted on a subscription. A trial that was
// in flight when the process stopped is treated as not started.
func (b *Breaker) Load(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = s.CircuitState
	if b.state == "" {
		b.state = CircuitClosed
	}
	b.failures = s.FailureCount
	b.cooldown = s.Cooldown
	if b.cooldown <= 0 {
		b.cooldown = b.baseCooldown
	}
	b.openUntil = time.Time{}
	if s.OpenUntil != nil {
		b.openUntil = *s.OpenUntil
	}
	b.trial = false
}

// Save copies the breaker state onto s for persistence.
func (b *Breaker) Save(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s.CircuitState = b.state
	s.FailureCount = b.failures
	s.Cooldown = b.cooldown
	s.OpenUntil = nil
	if !b.openUntil.IsZero() {
		t := b.openUntil.UTC()
		s.OpenUntil = &t
	}
}
