package dlq

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

// Replay is the only way to revive dead-lettered work. It submits a NEW job
// with the entry's payload, kind, priority and attempt budget, then marks
// the entry as replayed. The original job stays dead_lettered. An entry
// that was already replayed yields a conflict.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	if s.enqueue == nil {
		return nil, errors.New("dlq: replay requires an enqueue function")
	}

	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ReplayedAt != nil {
		return nil, errors.Wrapf(renderq.ErrConflict, "dlq: entry %s already replayed", entryID)
	}

	j, err := s.enqueue(ctx, entry.Payload,
		job.WithKind(entry.Kind),
		job.WithPriority(entry.Priority),
		job.WithMaxAttempts(entry.MaxAttempts),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "dlq: replay %s", entryID)
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued; report both.
		return j, errors.Wrapf(err, "dlq: mark %s replayed", entryID)
	}

	return j, nil
}
