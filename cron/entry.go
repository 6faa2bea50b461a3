package cron

import (
	"time"

	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

// Entry is a recurring submission.
type Entry struct {
	// Name identifies the entry and must be unique within a Scheduler.
	Name string `json:"name"`
	// Schedule is a cron expression, e.g. "*/15 * * * *" or "@every 1h".
	Schedule string `json:"schedule"`

	Kind        string       `json:"kind,omitempty"`
	Priority    job.Priority `json:"priority"`
	Payload     []byte       `json:"payload,omitempty"`
	MaxAttempts int          `json:"max_attempts,omitempty"`

	NextRunAt time.Time  `json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastJobID id.JobID   `json:"last_job_id,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int        `json:"runs"`
}

// options returns the submission options of one firing.
func (e *Entry) options() []job.Option {
	opts := []job.Option{job.WithKind(e.Kind), job.WithPriority(e.Priority)}
	if e.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(e.MaxAttempts))
	}
	return opts
}
