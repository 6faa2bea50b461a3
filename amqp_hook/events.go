package amqphook

import (
	"encoding/json"
	"time"

	"github.com/xraph/renderq/event"
)

// DefaultExchange is the topic exchange used when none is configured.
const DefaultExchange = "renderq.events"

// RoutingKey returns the routing key of a transition: its event type.
func RoutingKey(t event.Transition) string { return string(t.Type()) }

// message is the default JSON body of a published transition.
type message struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	JobID       string `json:"job_id"`
	Kind        string `json:"kind,omitempty"`
	Priority    string `json:"priority"`
	FromState   string `json:"from_state,omitempty"`
	ToState     string `json:"to_state"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	Error       string `json:"error,omitempty"`
	LatencyMs   int64  `json:"latency_ms,omitempty"`
	Timestamp   string `json:"timestamp"`
}

func defaultPayload(t event.Transition) ([]byte, error) {
	m := message{
		ID:          t.ID.String(),
		Type:        string(t.Type()),
		JobID:       t.JobID.String(),
		Kind:        t.JobKind,
		Priority:    t.Priority.String(),
		FromState:   string(t.From),
		ToState:     string(t.To),
		Attempt:     t.Attempt,
		MaxAttempts: t.MaxAttempts,
		Error:       t.Error,
		Timestamp:   t.At.UTC().Format(time.RFC3339Nano),
	}
	if t.To.IsTerminal() {
		m.LatencyMs = t.Latency().Milliseconds()
	}
	return json.Marshal(m)
}
