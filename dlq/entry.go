package dlq

import (
	"time"

	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

// Entry is a snapshot of a dead-lettered job kept for inspection and
// manual replay.
type Entry struct {
	ID          id.DLQID     `json:"id"`
	JobID       id.JobID     `json:"job_id"`
	Kind        string       `json:"kind,omitempty"`
	Priority    job.Priority `json:"priority"`
	Payload     []byte       `json:"payload"`
	Error       string       `json:"error"`
	Attempt     int          `json:"attempt"`
	MaxAttempts int          `json:"max_attempts"`
	FailedAt    time.Time    `json:"failed_at"`
	ReplayedAt  *time.Time   `json:"replayed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = append([]byte(nil), e.Payload...)
	}
	if e.ReplayedAt != nil {
		t := *e.ReplayedAt
		cp.ReplayedAt = &t
	}
	return &cp
}
