package webhook

import (
	"maps"
	"time"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/id"
)

// CircuitState is the breaker state of a subscription.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Subscription is an external endpoint that receives signed transition
// events. The circuit fields are written only by the dispatcher, from
// delivery outcomes.
type Subscription struct {
	renderq.Entity

	ID      id.SubscriptionID `json:"id"`
	URL     string            `json:"url"`
	Secret  string            `json:"secret,omitempty"`
	Events  []event.Type      `json:"events,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Active  bool              `json:"active"`

	CircuitState  CircuitState  `json:"circuit_state"`
	FailureCount  int           `json:"failure_count"`
	Cooldown      time.Duration `json:"cooldown"`
	OpenUntil     *time.Time    `json:"open_until,omitempty"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty"`
}

// Accepts reports whether the subscription wants events of type t. An
// empty filter accepts every transition.
func (s *Subscription) Accepts(t event.Type) bool {
	if len(s.Events) == 0 {
		return t != event.TypeProgress
	}
	for _, want := range s.Events {
		if want == t {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of s.
func (s *Subscription) Clone() *Subscription {
	cp := *s
	cp.Events = append([]event.Type(nil), s.Events...)
	cp.Headers = maps.Clone(s.Headers)
	if s.OpenUntil != nil {
		t := *s.OpenUntil
		cp.OpenUntil = &t
	}
	if s.LastAttemptAt != nil {
		t := *s.LastAttemptAt
		cp.LastAttemptAt = &t
	}
	return &cp
}

// Redacted returns a copy without the secret, for listing.
func (s *Subscription) Redacted() *Subscription {
	cp := s.Clone()
	cp.Secret = ""
	return cp
}
