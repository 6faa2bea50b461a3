package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

const jobColumns = `id, kind, payload, state, priority, seq, attempt, max_attempts,
	progress, stage, last_error, worker_id, timeout, next_eligible_at,
	started_at, completed_at, heartbeat_at, created_at, updated_at`

// EnqueueJob persists a new job; the database assigns Seq.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	payload := j.Payload
	if payload == nil {
		payload = []byte{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO renderq_jobs (
			id, kind, payload, state, priority, attempt, max_attempts,
			progress, stage, last_error, worker_id, timeout, next_eligible_at,
			started_at, completed_at, heartbeat_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18
		) RETURNING seq`,
		j.ID.String(), j.Kind, payload, string(j.State), int16(j.Priority), j.Attempt, j.MaxAttempts,
		j.Progress, j.Stage, j.LastError, j.WorkerID.String(), j.Timeout.Nanoseconds(), j.NextEligibleAt,
		j.StartedAt, j.CompletedAt, j.HeartbeatAt, j.CreatedAt, j.UpdatedAt,
	).Scan(&j.Seq)
	if err != nil {
		if isDuplicateKey(err) {
			return errors.Wrapf(renderq.ErrJobAlreadyExists, "job %s", j.ID)
		}
		return errors.Wrap(err, "renderq/postgres: enqueue job")
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM renderq_jobs WHERE id = $1`, jobID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, errors.Wrapf(renderq.ErrJobNotFound, "job %s", jobID)
		}
		return nil, errors.Wrap(err, "renderq/postgres: get job")
	}
	return j, nil
}

// mutateJob locks the row, lets fn change the job and writes it back when
// fn reports a change.
func (s *Store) mutateJob(ctx context.Context, jobID id.JobID, fn func(j *job.Job) (bool, error)) (*job.Job, error) {
	var out *job.Job
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		j, err := scanJob(tx.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM renderq_jobs WHERE id = $1 FOR UPDATE`, jobID.String()))
		if err != nil {
			if isNoRows(err) {
				return errors.Wrapf(renderq.ErrJobNotFound, "job %s", jobID)
			}
			return errors.Wrap(err, "renderq/postgres: lock job")
		}
		changed, err := fn(j)
		if err != nil {
			return err
		}
		if changed {
			if err := updateJob(ctx, tx, j); err != nil {
				return err
			}
		}
		out = j
		return nil
	})
	return out, err
}

func updateJob(ctx context.Context, tx pgx.Tx, j *job.Job) error {
	_, err := tx.Exec(ctx, `
		UPDATE renderq_jobs SET
			state = $2, attempt = $3, progress = $4, stage = $5, last_error = $6,
			worker_id = $7, next_eligible_at = $8, started_at = $9,
			completed_at = $10, heartbeat_at = $11, updated_at = $12
		WHERE id = $1`,
		j.ID.String(), string(j.State), j.Attempt, j.Progress, j.Stage, j.LastError,
		j.WorkerID.String(), j.NextEligibleAt, j.StartedAt,
		j.CompletedAt, j.HeartbeatAt, j.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "renderq/postgres: update job")
	}
	return nil
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

// ClaimJob activates the most urgent eligible job. SKIP LOCKED lets
// concurrent claimers pass over rows another transaction holds.
func (s *Store) ClaimJob(ctx context.Context, opts job.ClaimOpts) (*job.Job, error) {
	if opts.Priorities != nil && len(opts.Priorities) == 0 {
		return nil, nil
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	var tiers []int16
	for _, p := range opts.Priorities {
		tiers = append(tiers, int16(p))
	}

	var claimed *job.Job
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		j, err := scanJob(tx.QueryRow(ctx, `
			SELECT `+jobColumns+` FROM renderq_jobs
			WHERE state = 'queued'
			  AND next_eligible_at <= $1
			  AND ($2::smallint[] IS NULL OR priority = ANY($2))
			ORDER BY priority DESC, seq ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1`, now, tiers))
		if err != nil {
			if isNoRows(err) {
				return nil
			}
			return err
		}
		t := job.Transition{From: job.StateQueued, To: job.StateActive, WorkerID: opts.WorkerID}
		if err := t.Apply(j, time.Now()); err != nil {
			return err
		}
		if err := updateJob(ctx, tx, j); err != nil {
			return err
		}
		claimed = j
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "renderq/postgres: claim job")
	}
	return claimed, nil
}

// ListJobsByState returns jobs in the given state in dispatch order.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM renderq_jobs
		WHERE state = $1
		ORDER BY priority DESC, seq ASC
		LIMIT $2 OFFSET $3`,
		string(state), limit, opts.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/postgres: list jobs by state")
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs per state.
func (s *Store) CountJobs(ctx context.Context) (map[job.State]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, COUNT(*) FROM renderq_jobs GROUP BY state`)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/postgres: count jobs")
	}
	defer rows.Close()

	counts := make(map[job.State]int64, len(job.States))
	for _, st := range job.States {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, errors.Wrap(err, "renderq/postgres: scan count")
		}
		counts[job.State(state)] = n
	}
	return counts, errors.Wrap(rows.Err(), "renderq/postgres: iterate counts")
}

// NextEligibleAt returns the earliest future eligibility among queued jobs.
func (s *Store) NextEligibleAt(ctx context.Context) (time.Time, bool, error) {
	var next *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(next_eligible_at) FROM renderq_jobs
		WHERE state = 'queued' AND next_eligible_at > NOW()`).Scan(&next)
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "renderq/postgres: next eligible")
	}
	if next == nil {
		return time.Time{}, false, nil
	}
	return next.UTC(), true, nil
}

// HeartbeatJob refreshes the heartbeat of an active job held by workerID.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE renderq_jobs SET heartbeat_at = NOW()
		WHERE id = $1 AND state = 'active' AND worker_id = $2`,
		jobID.String(), workerID.String())
	if err != nil {
		return errors.Wrap(err, "renderq/postgres: heartbeat job")
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return errors.Wrapf(renderq.ErrConflict, "job %s not held by %s", jobID, workerID)
	}
	return nil
}

// ReapStaleJobs returns active jobs whose heartbeat is older than threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM renderq_jobs
		WHERE state = 'active'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1`,
		time.Now().Add(-threshold))
	if err != nil {
		return nil, errors.Wrap(err, "renderq/postgres: reap stale jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
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
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM renderq_jobs WHERE state = ANY($1) AND updated_at < $2`,
		terminal, before)
	if err != nil {
		return 0, errors.Wrap(err, "renderq/postgres: purge jobs")
	}
	return tag.RowsAffected(), nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		priority  int16
		progress  int16
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.Kind, &j.Payload, &stateStr, &priority, &j.Seq, &j.Attempt, &j.MaxAttempts,
		&progress, &j.Stage, &j.LastError, &workerStr, &timeoutNs, &j.NextEligibleAt,
		&j.StartedAt, &j.CompletedAt, &j.HeartbeatAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Priority = job.Priority(priority)
	j.Progress = int(progress)
	j.Timeout = time.Duration(timeoutNs)
	j.NextEligibleAt = j.NextEligibleAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	j.StartedAt = utcPtr(j.StartedAt)
	j.CompletedAt = utcPtr(j.CompletedAt)
	j.HeartbeatAt = utcPtr(j.HeartbeatAt)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, errors.Wrapf(parseErr, "renderq/postgres: parse job id %q", idStr)
	}
	j.ID = parsedID

	if workerStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "renderq/postgres: scan job row")
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "renderq/postgres: iterate job rows")
	}
	return jobs, nil
}
