package sqlite

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/id"
)

const dlqColumns = `id, job_id, kind, priority, payload, error, attempt,
	max_attempts, failed_at, replayed_at, created_at`

// PushDLQ adds an entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO renderq_dlq (`+dlqColumns+`) VALUES (
			:id, :job_id, :kind, :priority, :payload, :error, :attempt,
			:max_attempts, :failed_at, :replayed_at, :created_at)`, toDLQModel(entry))
	if err != nil {
		return errors.Wrap(err, "renderq/sqlite: push dlq")
	}
	return nil
}

// ListDLQ returns entries, most recent failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	var models []dlqModel
	err := s.db.SelectContext(ctx, &models,
		`SELECT `+dlqColumns+` FROM renderq_dlq ORDER BY failed_at DESC LIMIT ? OFFSET ?`,
		limit, opts.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/sqlite: list dlq")
	}

	entries := make([]*dlq.Entry, 0, len(models))
	for i := range models {
		e, err := fromDLQModel(&models[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var m dlqModel
	err := s.db.GetContext(ctx, &m, `SELECT `+dlqColumns+` FROM renderq_dlq WHERE id = ?`, entryID.String())
	if err != nil {
		if isNoRows(err) {
			return nil, errors.Wrapf(renderq.ErrDLQNotFound, "entry %s", entryID)
		}
		return nil, errors.Wrap(err, "renderq/sqlite: get dlq")
	}
	return fromDLQModel(&m)
}

// ReplayDLQ marks an entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE renderq_dlq SET replayed_at = ? WHERE id = ?`,
		toNanos(time.Now()), entryID.String())
	if err != nil {
		return errors.Wrap(err, "renderq/sqlite: replay dlq")
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return errors.Wrapf(renderq.ErrDLQNotFound, "entry %s", entryID)
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM renderq_dlq WHERE failed_at < ?`, toNanos(before))
	if err != nil {
		return 0, errors.Wrap(err, "renderq/sqlite: purge dlq")
	}
	return res.RowsAffected()
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM renderq_dlq`); err != nil {
		return 0, errors.Wrap(err, "renderq/sqlite: count dlq")
	}
	return n, nil
}
