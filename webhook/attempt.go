package webhook

import (
	"sync"
	"time"

	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/id"
)

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped means the circuit was open and no request was sent.
	OutcomeSkipped Outcome = "skipped"
)

// Attempt records one delivery attempt. Attempts are kept in memory only.
type Attempt struct {
	ID             id.DeliveryID     `json:"id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	EventID        id.EventID        `json:"event_id"`
	EventType      event.Type        `json:"event_type"`
	Attempt        int               `json:"attempt"`
	Outcome        Outcome           `json:"outcome"`
	StatusCode     int               `json:"status_code,omitempty"`
	Error          string            `json:"error,omitempty"`
	Duration       time.Duration     `json:"duration"`
	At             time.Time         `json:"at"`
}

// Stats summarises the delivery history of one subscription since the
// process started.
type Stats struct {
	SubscriptionID  id.SubscriptionID `json:"subscription_id"`
	CircuitState    CircuitState      `json:"circuit_state"`
	Total           int64             `json:"total"`
	Delivered       int64             `json:"delivered"`
	Failed          int64             `json:"failed"`
	Skipped         int64             `json:"skipped"`
	Dropped         int64             `json:"dropped"`
	SuccessRate     float64           `json:"success_rate"`
	AvgResponseTime time.Duration     `json:"avg_response_time"`
	LastAttemptAt   *time.Time        `json:"last_attempt_at,omitempty"`
}

// history is a fixed-size ring of recent attempts plus running totals.
type history struct {
	mu      sync.Mutex
	ring    []Attempt
	next    int
	full    bool
	stats   Stats
	elapsed time.Duration
	timed   int64
}

func newHistory(size int) *history {
	if size < 1 {
		size = 1
	}
	return &history{ring: make([]Attempt, size)}
}

func (h *history) record(a Attempt) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.next] = a
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}

	h.stats.Total++
	switch a.Outcome {
	case OutcomeDelivered:
		h.stats.Delivered++
	case OutcomeFailed:
		h.stats.Failed++
	case OutcomeSkipped:
		h.stats.Skipped++
	}
	if a.Outcome != OutcomeSkipped {
		h.elapsed += a.Duration
		h.timed++
	}
	at := a.At
	h.stats.LastAttemptAt = &at
}

func (h *history) drop() {
	h.mu.Lock()
	h.stats.Dropped++
	h.mu.Unlock()
}

// attempts returns the retained attempts, newest first.
func (h *history) attempts() []Attempt {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.ring)
	}
	out := make([]Attempt, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, h.ring[(h.next-i+len(h.ring))%len(h.ring)])
	}
	return out
}

func (h *history) snapshot() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.stats
	if s.LastAttemptAt != nil {
		t := *s.LastAttemptAt
		s.LastAttemptAt = &t
	}
	if sent := s.Delivered + s.Failed; sent > 0 {
		s.SuccessRate = float64(s.Delivered) / float64(sent)
	}
	if h.timed > 0 {
		s.AvgResponseTime = h.elapsed / time.Duration(h.timed)
	}
	return s
}
