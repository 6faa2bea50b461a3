package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

const dlqColumns = `id, job_id, kind, priority, payload, error, attempt,
	max_attempts, failed_at, replayed_at, created_at`

// PushDLQ adds a dead-lettered job snapshot to the queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	payload := entry.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO renderq_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID.String(), entry.JobID.String(), entry.Kind, int16(entry.Priority),
		payload, entry.Error, entry.Attempt, entry.MaxAttempts,
		entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "renderq/postgres: push dlq")
	}
	return nil
}

// ListDLQ returns entries, most recent failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+dlqColumns+` FROM renderq_dlq
		ORDER BY failed_at DESC
		LIMIT $1 OFFSET $2`, limit, opts.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/postgres: list dlq")
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, errors.Wrap(scanErr, "renderq/postgres: scan dlq row")
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "renderq/postgres: iterate dlq rows")
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	e, err := scanDLQ(s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM renderq_dlq WHERE id = $1`, entryID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.Wrapf(renderq.ErrDLQNotFound, "entry %s", entryID)
		}
		return nil, errors.Wrap(err, "renderq/postgres: get dlq")
	}
	return e, nil
}

// ReplayDLQ marks an entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE renderq_dlq SET replayed_at = NOW() WHERE id = $1`, entryID.String())
	if err != nil {
		return errors.Wrap(err, "renderq/postgres: replay dlq")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(renderq.ErrDLQNotFound, "entry %s", entryID)
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM renderq_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, errors.Wrap(err, "renderq/postgres: purge dlq")
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM renderq_dlq`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "renderq/postgres: count dlq")
	}
	return n, nil
}

func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e        dlq.Entry
		idStr    string
		jobIDStr string
		priority int16
	)
	err := row.Scan(
		&idStr, &jobIDStr, &e.Kind, &priority, &e.Payload, &e.Error, &e.Attempt,
		&e.MaxAttempts, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Priority = job.Priority(priority)
	e.FailedAt = e.FailedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.ReplayedAt = utcPtr(e.ReplayedAt)

	if e.ID, err = id.ParseDLQID(idStr); err != nil {
		return nil, errors.Wrapf(err, "renderq/postgres: parse dlq id %q", idStr)
	}
	if e.JobID, err = id.ParseJobID(jobIDStr); err != nil {
		return nil, errors.Wrapf(err, "renderq/postgres: parse dlq job id %q", jobIDStr)
	}
	return &e, nil
}
