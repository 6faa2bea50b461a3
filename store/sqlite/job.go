package sqlite

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

const updateJobSQL = `
	UPDATE renderq_jobs SET
		state = :state, attempt = :attempt, progress = :progress, stage = :stage,
		last_error = :last_error, worker_id = :worker_id,
		next_eligible_at = :next_eligible_at, started_at = :started_at,
		completed_at = :completed_at, heartbeat_at = :heartbeat_at,
		updated_at = :updated_at
	WHERE id = :id`

// EnqueueJob persists a new job and assigns the next submission sequence.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	var seq int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &seq, `SELECT COALESCE(MAX(seq), 0) + 1 FROM renderq_jobs`); err != nil {
			return err
		}
		m := toJobModel(j)
		m.Seq = seq
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO renderq_jobs (`+jobColumns+`) VALUES (
				:id, :kind, :payload, :state, :priority, :seq, :attempt, :max_attempts,
				:progress, :stage, :last_error, :worker_id, :timeout, :next_eligible_at,
				:started_at, :completed_at, :heartbeat_at, :created_at, :updated_at)`, m)
		return err
	})
	if err != nil {
		if isDuplicateKey(err) {
			return errors.Wrapf(renderq.ErrJobAlreadyExists, "job %s", j.ID)
		}
		return errors.Wrap(err, "renderq/sqlite: enqueue job")
	}
	j.Seq = seq
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return getJob(ctx, s.db, jobID)
}

func getJob(ctx context.Context, q sqlx.QueryerContext, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := sqlx.GetContext(ctx, q, &m, `SELECT `+jobColumns+` FROM renderq_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		if isNoRows(err) {
			return nil, errors.Wrapf(renderq.ErrJobNotFound, "job %s", jobID)
		}
		return nil, errors.Wrap(err, "renderq/sqlite: get job")
	}
	return fromJobModel(&m)
}

// mutateJob loads the job inside a transaction, lets fn change it and
// writes it back when fn reports a change.
func (s *Store) mutateJob(ctx context.Context, jobID id.JobID, fn func(j *job.Job) (bool, error)) (*job.Job, error) {
	var out *job.Job
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		j, err := getJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		changed, err := fn(j)
		if err != nil {
			return err
		}
		if changed {
			if _, err := tx.NamedExecContext(ctx, updateJobSQL, toJobModel(j)); err != nil {
				return errors.Wrap(err, "renderq/sqlite: update job")
			}
		}
		out = j
		return nil
	})
	return out, err
}

// UpdateJobState applies t if the job is still in t.From.
func (s *Store) UpdateJobState(ctx context.Context, jobID id.JobID, t job.Transition) (*job.Job, error) {
	return s.mutateJob(ctx, jobID, func(j *job.Job) (bool, error) {
		return true, t.Apply(j, time.Now())
	})
}

// CancelJob cancels a queued or active job.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.mutateJob(ctx, jobID, func(j *job.Job) (bool, error) {
		return true, job.CancelFrom(j.State).Apply(j, time.Now())
	})
}

// UpdateJobProgress records monotonic progress for an active attempt.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID id.JobID, attempt, percent int, stage string) (*job.Job, error) {
	return s.mutateJob(ctx, jobID, func(j *job.Job) (bool, error) {
		return job.ApplyProgress(j, attempt, percent, stage, time.Now())
	})
}

// ClaimJob activates the most urgent eligible job. The single connection
// makes select-then-update atomic.
func (s *Store) ClaimJob(ctx context.Context, opts job.ClaimOpts) (*job.Job, error) {
	if opts.Priorities != nil && len(opts.Priorities) == 0 {
		return nil, nil
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	query := `SELECT ` + jobColumns + ` FROM renderq_jobs
		WHERE state = 'queued' AND next_eligible_at <= ?`
	args := []any{toNanos(now)}
	if opts.Priorities != nil {
		query += ` AND priority IN (?)`
		args = append(args, opts.Priorities)
	}
	query += ` ORDER BY priority DESC, seq ASC LIMIT 1`
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/sqlite: build claim query")
	}

	var claimed *job.Job
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		var m jobModel
		if err := tx.GetContext(ctx, &m, tx.Rebind(query), args...); err != nil {
			if isNoRows(err) {
				return nil
			}
			return err
		}
		j, err := fromJobModel(&m)
		if err != nil {
			return err
		}
		t := job.Transition{From: job.StateQueued, To: job.StateActive, WorkerID: opts.WorkerID}
		if err := t.Apply(j, time.Now()); err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, updateJobSQL, toJobModel(j)); err != nil {
			return err
		}
		claimed = j
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "renderq/sqlite: claim job")
	}
	return claimed, nil
}

// ListJobsByState returns jobs in the given state in dispatch order.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	var models []jobModel
	err := s.db.SelectContext(ctx, &models,
		`SELECT `+jobColumns+` FROM renderq_jobs WHERE state = ?
		ORDER BY priority DESC, seq ASC LIMIT ? OFFSET ?`,
		string(state), limit, opts.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/sqlite: list jobs by state")
	}
	return fromJobModels(models)
}

// CountJobs returns the number of jobs per state.
func (s *Store) CountJobs(ctx context.Context) (map[job.State]int64, error) {
	var rows []struct {
		State string `db:"state"`
		N     int64  `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT state, COUNT(*) AS n FROM renderq_jobs GROUP BY state`); err != nil {
		return nil, errors.Wrap(err, "renderq/sqlite: count jobs")
	}
	counts := make(map[job.State]int64, len(job.States))
	for _, st := range job.States {
		counts[st] = 0
	}
	for _, r := range rows {
		counts[job.State(r.State)] = r.N
	}
	return counts, nil
}

// NextEligibleAt returns the earliest future eligibility among queued jobs.
func (s *Store) NextEligibleAt(ctx context.Context) (time.Time, bool, error) {
	var next *int64
	err := s.db.GetContext(ctx, &next,
		`SELECT MIN(next_eligible_at) FROM renderq_jobs
		WHERE state = 'queued' AND next_eligible_at > ?`, toNanos(time.Now()))
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "renderq/sqlite: next eligible")
	}
	if next == nil {
		return time.Time{}, false, nil
	}
	return fromNanos(*next), true, nil
}

// HeartbeatJob refreshes the heartbeat of an active job held by workerID.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE renderq_jobs SET heartbeat_at = ?
		WHERE id = ? AND state = 'active' AND worker_id = ?`,
		toNanos(time.Now()), jobID.String(), workerID.String())
	if err != nil {
		return errors.Wrap(err, "renderq/sqlite: heartbeat job")
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return errors.Wrapf(renderq.ErrConflict, "job %s not held by %s", jobID, workerID)
	}
	return nil
}

// ReapStaleJobs returns active jobs whose heartbeat is older than threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().Add(-threshold)
	var models []jobModel
	err := s.db.SelectContext(ctx, &models,
		`SELECT `+jobColumns+` FROM renderq_jobs
		WHERE state = 'active' AND heartbeat_at IS NOT NULL AND heartbeat_at < ?`,
		toNanos(cutoff))
	if err != nil {
		return nil, errors.Wrap(err, "renderq/sqlite: reap stale jobs")
	}
	return fromJobModels(models)
}

// PurgeJobs deletes terminal jobs last updated before the cut-off.
func (s *Store) PurgeJobs(ctx context.Context, states []job.State, before time.Time) (int64, error) {
	terminal := make([]string, 0, len(states))
	for _, st := range states {
		if st.IsTerminal() {
			terminal = append(terminal, string(st))
		}
	}
	if len(terminal) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		`DELETE FROM renderq_jobs WHERE state IN (?) AND updated_at < ?`,
		terminal, toNanos(before))
	if err != nil {
		return 0, errors.Wrap(err, "renderq/sqlite: build purge query")
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, errors.Wrap(err, "renderq/sqlite: purge jobs")
	}
	return res.RowsAffected()
}
