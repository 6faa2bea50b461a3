package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

// claimBatch is how many candidates a claim reads per round trip.
const claimBatch = 64

// dispatchOrder sorts jobs most urgent first, then by submission.
var dispatchOrder = bson.D{
	{Key: "priority", Value: -1},
	{Key: "seq", Value: 1},
}

// EnqueueJob persists a new job and assigns the next submission sequence.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	seq, err := s.nextSeq(ctx, "job_seq")
	if err != nil {
		return err
	}
	m := toJobModel(j, 1)
	m.Seq = seq
	if _, err := s.jobs().InsertOne(ctx, m); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return errors.Wrapf(renderq.ErrJobAlreadyExists, "job %s", j.ID)
		}
		return errors.Wrap(err, "renderq/mongo: enqueue job")
	}
	j.Seq = seq
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m, err := s.getJobModel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return fromJobModel(m)
}

func (s *Store) getJobModel(ctx context.Context, jobID id.JobID) (*jobModel, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, errors.Wrapf(renderq.ErrJobNotFound, "job %s", jobID)
		}
		return nil, errors.Wrap(err, "renderq/mongo: get job")
	}
	return &m, nil
}

// swapJob replaces the document if it is still at rev. It reports false
// when another writer got there first.
func (s *Store) swapJob(ctx context.Context, j *job.Job, rev int64) (bool, error) {
	res, err := s.jobs().ReplaceOne(ctx,
		bson.M{"_id": j.ID.String(), "rev": rev},
		toJobModel(j, rev+1),
	)
	if err != nil {
		return false, errors.Wrap(err, "renderq/mongo: replace job")
	}
	return res.MatchedCount == 1, nil
}

// mutateJob loads the job, lets fn change it and writes it back with a
// revision check, retrying when a concurrent writer won.
func (s *Store) mutateJob(ctx context.Context, jobID id.JobID, fn func(j *job.Job) (bool, error)) (*job.Job, error) {
	for range maxCASRetries {
		m, err := s.getJobModel(ctx, jobID)
		if err != nil {
			return nil, err
		}
		j, err := fromJobModel(m)
		if err != nil {
			return nil, err
		}
		changed, err := fn(j)
		if err != nil {
			return nil, err
		}
		if !changed {
			return j, nil
		}
		ok, err := s.swapJob(ctx, j, m.Rev)
		if err != nil {
			return nil, err
		}
		if ok {
			return j, nil
		}
	}
	return nil, errors.Wrapf(renderq.ErrConflict, "renderq/mongo: contention on job %s", jobID)
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

// ClaimJob reads eligible candidates in dispatch order and activates the
// first one whose revision swap succeeds. A batch lost entirely to
// concurrent claimers is re-read.
func (s *Store) ClaimJob(ctx context.Context, opts job.ClaimOpts) (*job.Job, error) {
	if opts.Priorities != nil && len(opts.Priorities) == 0 {
		return nil, nil
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	filter := bson.M{
		"state":            string(job.StateQueued),
		"next_eligible_at": bson.M{"$lte": toNanos(now)},
	}
	if opts.Priorities != nil {
		tiers := make([]int, 0, len(opts.Priorities))
		for _, p := range opts.Priorities {
			tiers = append(tiers, int(p))
		}
		filter["priority"] = bson.M{"$in": tiers}
	}
	findOpts := options.Find().SetSort(dispatchOrder).SetLimit(claimBatch)

	for range maxCASRetries {
		models, err := s.findJobs(ctx, filter, findOpts)
		if err != nil {
			return nil, errors.Wrap(err, "renderq/mongo: scan queued")
		}
		if len(models) == 0 {
			return nil, nil
		}
		for i := range models {
			m := &models[i]
			j, err := fromJobModel(m)
			if err != nil {
				continue
			}
			t := job.Transition{From: job.StateQueued, To: job.StateActive, WorkerID: opts.WorkerID}
			if err := t.Apply(j, time.Now()); err != nil {
				continue
			}
			ok, err := s.swapJob(ctx, j, m.Rev)
			if err != nil {
				return nil, errors.Wrap(err, "renderq/mongo: claim job")
			}
			if ok {
				return j, nil
			}
		}
	}
	return nil, nil
}

func (s *Store) findJobs(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) ([]jobModel, error) {
	cursor, err := s.jobs().Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// ListJobsByState returns jobs in the given state in dispatch order.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	findOpts := options.Find().SetSort(dispatchOrder)
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	models, err := s.findJobs(ctx, bson.M{"state": string(state)}, findOpts)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/mongo: list jobs by state")
	}
	return fromJobModels(models)
}

// CountJobs returns the number of jobs per state.
func (s *Store) CountJobs(ctx context.Context) (map[job.State]int64, error) {
	pipeline := mongod.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$state"},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.jobs().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrap(err, "renderq/mongo: count jobs")
	}
	var rows []struct {
		State string `bson:"_id"`
		N     int64  `bson:"n"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "renderq/mongo: count jobs decode")
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
	var m jobModel
	err := s.jobs().FindOne(ctx,
		bson.M{
			"state":            string(job.StateQueued),
			"next_eligible_at": bson.M{"$gt": toNanos(time.Now())},
		},
		options.FindOne().SetSort(bson.D{{Key: "next_eligible_at", Value: 1}}),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, errors.Wrap(err, "renderq/mongo: next eligible")
	}
	return fromNanos(m.NextEligibleAt), true, nil
}

// HeartbeatJob refreshes the heartbeat of an active job held by workerID.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.jobs().UpdateOne(ctx,
		bson.M{
			"_id":       jobID.String(),
			"state":     string(job.StateActive),
			"worker_id": workerID.String(),
		},
		bson.M{
			"$set": bson.M{"heartbeat_at": toNanos(time.Now())},
			"$inc": bson.M{"rev": int64(1)},
		},
	)
	if err != nil {
		return errors.Wrap(err, "renderq/mongo: heartbeat job")
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return errors.Wrapf(renderq.ErrConflict, "job %s not held by %s", jobID, workerID)
	}
	return nil
}

// ReapStaleJobs returns active jobs whose heartbeat is older than threshold.
// Jobs without a heartbeat are never stale.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := toNanos(time.Now().Add(-threshold))
	models, err := s.findJobs(ctx, bson.M{
		"state":        string(job.StateActive),
		"heartbeat_at": bson.M{"$ne": nil, "$lt": cutoff},
	})
	if err != nil {
		return nil, errors.Wrap(err, "renderq/mongo: reap stale jobs")
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
	res, err := s.jobs().DeleteMany(ctx, bson.M{
		"state":      bson.M{"$in": terminal},
		"updated_at": bson.M{"$lt": toNanos(before)},
	})
	if err != nil {
		return 0, errors.Wrap(err, "renderq/mongo: purge jobs")
	}
	return res.DeletedCount, nil
}
