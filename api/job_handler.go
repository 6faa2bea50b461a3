package api

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/api/httperr"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
)

const defaultLimit = 50

func limitOrDefault(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}

func (a *API) submitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, err, "invalid request body")
		return
	}

	opts, err := req.options()
	if err != nil {
		httperr.Abort(c, err, "invalid job options")
		return
	}

	j, err := a.eng.Submit(c.Request.Context(), []byte(req.Payload), opts...)
	if err != nil {
		httperr.Abort(c, err, "submit job")
		return
	}
	c.JSON(http.StatusCreated, NewJobResponse(j))
}

func (r SubmitJobRequest) options() ([]job.Option, error) {
	p, err := job.ParsePriority(r.Priority)
	if err != nil {
		return nil, err
	}
	opts := []job.Option{
		job.WithKind(r.Kind),
		job.WithPriority(p),
		job.WithMaxAttempts(r.MaxAttempts),
	}
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return nil, errors.Wrapf(renderq.ErrInvalidConfig, "timeout %q", r.Timeout)
		}
		opts = append(opts, job.WithTimeout(d))
	}
	if r.RunAt != nil {
		opts = append(opts, job.WithRunAt(*r.RunAt))
	}
	return opts, nil
}

func (a *API) listJobs(c *gin.Context) {
	var req ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httperr.BadRequest(c, err, "invalid query")
		return
	}
	state := job.State(req.State)
	if state == "" {
		state = job.StateQueued
	}

	jobs, err := a.eng.List(c.Request.Context(), state, job.ListOpts{
		Limit:  limitOrDefault(req.Limit),
		Offset: req.Offset,
	})
	if err != nil {
		httperr.Abort(c, err, "list jobs")
		return
	}

	out := make([]*JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, NewJobResponse(j))
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) getJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}
	j, err := a.eng.Status(c.Request.Context(), jobID)
	if err != nil {
		httperr.Abort(c, err, "get job")
		return
	}
	c.JSON(http.StatusOK, NewJobResponse(j))
}

func (a *API) cancelJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}
	if err := a.eng.Cancel(c.Request.Context(), jobID); err != nil {
		httperr.Abort(c, err, "cancel job")
		return
	}
	c.Status(http.StatusNoContent)
}

func jobIDParam(c *gin.Context) (id.JobID, bool) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		httperr.BadRequest(c, err, "invalid job id")
		return id.Nil, false
	}
	return jobID, true
}
