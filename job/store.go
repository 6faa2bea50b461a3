package job

import (
	"context"
	"time"

	"github.com/xraph/renderq/id"
)

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// ClaimOpts describes one dispatch attempt.
type ClaimOpts struct {
	// WorkerID is the slot that will hold the job.
	WorkerID id.WorkerID
	// Priorities restricts the claim to these tiers. Nil means all tiers.
	Priorities []Priority
	// Now is the eligibility cut-off. Zero means time.Now().
	Now time.Time
}

// Allows reports whether the claim may take a job of tier p.
func (o ClaimOpts) Allows(p Priority) bool {
	if o.Priorities == nil {
		return true
	}
	for _, allowed := range o.Priorities {
		if allowed == p {
			return true
		}
	}
	return false
}

// Store defines the persistence contract for jobs. Every mutation is atomic
// with respect to concurrent dispatch: of two racing transitions on the same
// job at most one succeeds and the loser gets renderq.ErrConflict.
type Store interface {
	// EnqueueJob persists a new queued job and assigns its Seq.
	EnqueueJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJobState applies t if the job is still in t.From and returns
	// the updated job.
	UpdateJobState(ctx context.Context, jobID id.JobID, t Transition) (*Job, error)

	// CancelJob moves a queued or active job to cancelled. Terminal jobs
	// return renderq.ErrAlreadyTerminal.
	CancelJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ClaimJob atomically selects the most urgent eligible queued job
	// (priority descending, Seq ascending) and moves it to active. It
	// returns nil, nil when nothing is eligible.
	ClaimJob(ctx context.Context, opts ClaimOpts) (*Job, error)

	// UpdateJobProgress records progress for the given attempt of an
	// active job. Decreases are ignored.
	UpdateJobProgress(ctx context.Context, jobID id.JobID, attempt, percent int, stage string) (*Job, error)

	// ListJobsByState returns jobs in the given state in dispatch order.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs per state.
	CountJobs(ctx context.Context) (map[State]int64, error)

	// NextEligibleAt returns the earliest future eligibility time among
	// queued jobs. ok is false when no queued job is waiting on a delay.
	NextEligibleAt(ctx context.Context) (t time.Time, ok bool, err error)

	// HeartbeatJob updates the heartbeat timestamp of an active job held by
	// workerID.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns active jobs whose last heartbeat is older than
	// the threshold, indicating the worker may have crashed.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// PurgeJobs deletes jobs in the given terminal states last updated
	// before the cut-off and returns how many were removed.
	PurgeJobs(ctx context.Context, states []State, before time.Time) (int64, error)
}
