package dlq

import (
	"context"
	"time"

	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

// EnqueueFunc submits a fresh job built from a replayed entry.
type EnqueueFunc func(ctx context.Context, payload []byte, opts ...job.Option) (*job.Job, error)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store   Store
	enqueue EnqueueFunc
}

// NewService creates a DLQ service. enqueue is used by Replay and may be
// nil when replay is not needed.
func NewService(store Store, enqueue EnqueueFunc) *Service {
	return &Service{store: store, enqueue: enqueue}
}

// Push records a dead-lettered job. cause is the last execution error.
func (s *Service) Push(ctx context.Context, j *job.Job, cause error) error {
	now := time.Now().UTC()
	msg := j.LastError
	if cause != nil {
		msg = cause.Error()
	}
	entry := &Entry{
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		Kind:        j.Kind,
		Priority:    j.Priority,
		Payload:     j.Payload,
		Error:       msg,
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// DLQStore returns the underlying store for list, get, purge and count.
func (s *Service) DLQStore() Store {
	return s.store
}
