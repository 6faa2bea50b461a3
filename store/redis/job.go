package redis

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

// tierSpan separates priority tiers in the queued sorted set. A job's score
// is its tier offset plus its submission sequence, so the lowest score is
// the next job to dispatch.
const tierSpan = 1_000_000_000_000_000

// claimBatch is how many candidates a claim reads per round trip.
const claimBatch = 64

var errSkip = errors.New("renderq/redis: candidate not claimable")

func queueScore(p job.Priority, seq int64) float64 {
	return float64(int64(job.PriorityUrgent-p)*tierSpan + seq)
}

// EnqueueJob stores the job document and indexes it as queued.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	seq, err := s.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return errors.Wrap(err, "renderq/redis: next seq")
	}
	cp := j.Clone()
	cp.Seq = seq
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "renderq/redis: marshal job")
	}

	txf := func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return errors.Wrapf(renderq.ErrJobAlreadyExists, "job %s", j.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			indexJob(ctx, pipe, "", cp)
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf, key); err != nil {
		if renderq.IsConflict(err) {
			return err
		}
		return errors.Wrap(err, "renderq/redis: enqueue job")
	}
	j.Seq = seq
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return loadJob(ctx, s.client, jobID)
}

func loadJob(ctx context.Context, c goredis.Cmdable, jobID id.JobID) (*job.Job, error) {
	data, err := c.Get(ctx, jobKey(jobID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, errors.Wrapf(renderq.ErrJobNotFound, "job %s", jobID)
		}
		return nil, errors.Wrap(err, "renderq/redis: get job")
	}
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, errors.Wrap(err, "renderq/redis: unmarshal job")
	}
	return &j, nil
}

// loadJobs fetches the documents for ids, skipping keys that vanished.
func (s *Store) loadJobs(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, jID := range ids {
		keys[i] = jobKey(jID)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "renderq/redis: mget jobs")
	}
	jobs := make([]*job.Job, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var j job.Job
		if err := json.Unmarshal([]byte(str), &j); err != nil {
			return nil, errors.Wrap(err, "renderq/redis: unmarshal job")
		}
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

// indexJob moves the job between index structures for its new state.
func indexJob(ctx context.Context, pipe goredis.Pipeliner, prev job.State, j *job.Job) {
	jID := j.ID.String()
	if prev != "" && prev != j.State {
		pipe.SRem(ctx, stateKey(string(prev)), jID)
	}
	pipe.SAdd(ctx, stateKey(string(j.State)), jID)

	switch j.State {
	case job.StateQueued:
		pipe.ZAdd(ctx, queuedKey, goredis.Z{Score: queueScore(j.Priority, j.Seq), Member: jID})
		pipe.ZAdd(ctx, eligibleKey, goredis.Z{Score: micros(j.NextEligibleAt), Member: jID})
		pipe.ZRem(ctx, heartbeatKey, jID)
	case job.StateActive:
		pipe.ZRem(ctx, queuedKey, jID)
		pipe.ZRem(ctx, eligibleKey, jID)
		if j.HeartbeatAt != nil {
			pipe.ZAdd(ctx, heartbeatKey, goredis.Z{Score: micros(*j.HeartbeatAt), Member: jID})
		}
	default:
		pipe.ZRem(ctx, queuedKey, jID)
		pipe.ZRem(ctx, eligibleKey, jID)
		pipe.ZRem(ctx, heartbeatKey, jID)
	}
}

// watch runs fn as an optimistic transaction, retrying when a watched key
// changed underneath it.
func (s *Store) watch(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	return errors.Wrapf(renderq.ErrConflict, "renderq/redis: contention on %v", keys)
}

// mutateJob loads the job under WATCH, lets fn change it and commits the
// document together with its index updates.
func (s *Store) mutateJob(ctx context.Context, jobID id.JobID, fn func(j *job.Job) (bool, error)) (*job.Job, error) {
	var out *job.Job
	txf := func(tx *goredis.Tx) error {
		j, err := loadJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		prev := j.State
		changed, err := fn(j)
		if err != nil {
			return err
		}
		if changed {
			if err := writeJob(ctx, tx, prev, j); err != nil {
				return err
			}
		}
		out = j
		return nil
	}
	if err := s.watch(ctx, txf, jobKey(jobID.String())); err != nil {
		return nil, err
	}
	return out, nil
}

func writeJob(ctx context.Context, tx *goredis.Tx, prev job.State, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return errors.Wrap(err, "renderq/redis: marshal job")
	}
	_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, jobKey(j.ID.String()), data, 0)
		indexJob(ctx, pipe, prev, j)
		return nil
	})
	return err
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

type scoreRange struct{ min, max string }

// tierRanges returns the score ranges to scan, most urgent first.
func tierRanges(opts job.ClaimOpts) []scoreRange {
	if opts.Priorities == nil {
		return []scoreRange{{"-inf", "+inf"}}
	}
	var ranges []scoreRange
	for _, p := range job.Priorities {
		if !opts.Allows(p) {
			continue
		}
		lo := int64(job.PriorityUrgent-p) * tierSpan
		ranges = append(ranges, scoreRange{
			min: strconv.FormatInt(lo, 10),
			max: "(" + strconv.FormatInt(lo+tierSpan, 10),
		})
	}
	return ranges
}

// ClaimJob walks the queued index in dispatch order and activates the first
// eligible candidate it wins. A candidate taken by a concurrent claimer
// fails its transaction and the walk restarts.
func (s *Store) ClaimJob(ctx context.Context, opts job.ClaimOpts) (*job.Job, error) {
	if opts.Priorities != nil && len(opts.Priorities) == 0 {
		return nil, nil
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	for range maxTxRetries {
		contended := false
		for _, r := range tierRanges(opts) {
			for offset := int64(0); ; offset += claimBatch {
				ids, err := s.client.ZRangeByScore(ctx, queuedKey, &goredis.ZRangeBy{
					Min: r.min, Max: r.max, Offset: offset, Count: claimBatch,
				}).Result()
				if err != nil {
					return nil, errors.Wrap(err, "renderq/redis: scan queued")
				}
				for _, jID := range ids {
					j, err := s.tryClaim(ctx, jID, opts, now)
					switch {
					case err == nil:
						return j, nil
					case errors.Is(err, goredis.TxFailedErr):
						contended = true
					case errors.Is(err, errSkip):
					default:
						return nil, errors.Wrap(err, "renderq/redis: claim job")
					}
				}
				if len(ids) < claimBatch {
					break
				}
			}
		}
		if !contended {
			return nil, nil
		}
	}
	return nil, nil
}

func (s *Store) tryClaim(ctx context.Context, jID string, opts job.ClaimOpts, now time.Time) (*job.Job, error) {
	jobID, err := id.ParseJobID(jID)
	if err != nil {
		return nil, errSkip
	}
	var claimed *job.Job
	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		j, err := loadJob(ctx, tx, jobID)
		if err != nil {
			if errors.Is(err, renderq.ErrJobNotFound) {
				return errSkip
			}
			return err
		}
		if !j.Eligible(now) || !opts.Allows(j.Priority) {
			return errSkip
		}
		t := job.Transition{From: job.StateQueued, To: job.StateActive, WorkerID: opts.WorkerID}
		if err := t.Apply(j, time.Now()); err != nil {
			return errSkip
		}
		if err := writeJob(ctx, tx, job.StateQueued, j); err != nil {
			return err
		}
		claimed = j
		return nil
	}, jobKey(jID))
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ListJobsByState returns jobs in the given state in dispatch order.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, stateKey(string(state))).Result()
	if err != nil {
		return nil, errors.Wrap(err, "renderq/redis: list jobs by state")
	}
	jobs, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, err
	}
	jobs = slices.DeleteFunc(jobs, func(j *job.Job) bool { return j.State != state })
	slices.SortFunc(jobs, func(a, b *job.Job) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})
	return paginate(jobs, opts.Offset, opts.Limit), nil
}

// CountJobs returns the number of jobs per state.
func (s *Store) CountJobs(ctx context.Context) (map[job.State]int64, error) {
	pipe := s.client.Pipeline()
	cmds := make(map[job.State]*goredis.IntCmd, len(job.States))
	for _, st := range job.States {
		cmds[st] = pipe.SCard(ctx, stateKey(string(st)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "renderq/redis: count jobs")
	}
	counts := make(map[job.State]int64, len(cmds))
	for st, cmd := range cmds {
		counts[st] = cmd.Val()
	}
	return counts, nil
}

// NextEligibleAt returns the earliest future eligibility among queued jobs.
func (s *Store) NextEligibleAt(ctx context.Context) (time.Time, bool, error) {
	zs, err := s.client.ZRangeByScoreWithScores(ctx, eligibleKey, &goredis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(time.Now().UnixMicro(), 10),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "renderq/redis: next eligible")
	}
	if len(zs) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMicro(int64(zs[0].Score)).UTC(), true, nil
}

// HeartbeatJob refreshes the heartbeat of an active job held by workerID.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	_, err := s.mutateJob(ctx, jobID, func(j *job.Job) (bool, error) {
		if j.State != job.StateActive || j.WorkerID.String() != workerID.String() {
			return false, errors.Wrapf(renderq.ErrConflict, "job %s not held by %s", jobID, workerID)
		}
		now := time.Now().UTC()
		j.HeartbeatAt = &now
		return true, nil
	})
	return err
}

// ReapStaleJobs returns active jobs whose heartbeat is older than threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().Add(-threshold)
	ids, err := s.client.ZRangeByScore(ctx, heartbeatKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "renderq/redis: reap stale jobs")
	}
	jobs, err := s.loadJobs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(jobs, func(j *job.Job) bool {
		return j.State != job.StateActive || j.HeartbeatAt == nil || !j.HeartbeatAt.Before(cutoff)
	}), nil
}

// PurgeJobs deletes terminal jobs last updated before the cut-off.
func (s *Store) PurgeJobs(ctx context.Context, states []job.State, before time.Time) (int64, error) {
	var n int64
	for _, st := range states {
		if !st.IsTerminal() {
			continue
		}
		ids, err := s.client.SMembers(ctx, stateKey(string(st))).Result()
		if err != nil {
			return n, errors.Wrap(err, "renderq/redis: purge jobs")
		}
		jobs, err := s.loadJobs(ctx, ids)
		if err != nil {
			return n, err
		}

		pipe := s.client.TxPipeline()
		var batch int64
		for _, j := range jobs {
			if j.State != st || !j.UpdatedAt.Before(before) {
				continue
			}
			jID := j.ID.String()
			pipe.Del(ctx, jobKey(jID))
			pipe.SRem(ctx, stateKey(string(st)), jID)
			batch++
		}
		if batch == 0 {
			continue
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return n, errors.Wrap(err, "renderq/redis: purge jobs")
		}
		n += batch
	}
	return n, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
