package api

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/xraph/renderq"
	"github.com/xraph/renderq/api/httperr"
	"github.com/xraph/renderq/dlq"
	"github.com/xraph/renderq/id"
)

func (a *API) listDLQ(c *gin.Context) {
	var req ListDLQRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httperr.BadRequest(c, err, "invalid query")
		return
	}

	entries, err := a.eng.DeadLetters(c.Request.Context(), dlq.ListOpts{
		Limit:  limitOrDefault(req.Limit),
		Offset: req.Offset,
	})
	if err != nil {
		httperr.Abort(c, err, "list dlq")
		return
	}

	out := make([]*DLQEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, NewDLQEntryResponse(e))
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) getDLQ(c *gin.Context) {
	entryID, ok := dlqIDParam(c)
	if !ok {
		return
	}
	e, err := a.eng.DeadLetter(c.Request.Context(), entryID)
	if err != nil {
		httperr.Abort(c, err, "get dlq entry")
		return
	}
	c.JSON(http.StatusOK, NewDLQEntryResponse(e))
}

func (a *API) replayDLQ(c *gin.Context) {
	entryID, ok := dlqIDParam(c)
	if !ok {
		return
	}
	j, err := a.eng.Replay(c.Request.Context(), entryID)
	if err != nil {
		httperr.Abort(c, err, "replay dlq entry")
		return
	}
	c.JSON(http.StatusCreated, NewJobResponse(j))
}

func (a *API) purgeDLQ(c *gin.Context) {
	var req PurgeDLQRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.BadRequest(c, err, "invalid request body")
		return
	}
	before, err := req.cutoff(time.Now().UTC())
	if err != nil {
		httperr.Abort(c, err, "invalid purge request")
		return
	}

	n, err := a.eng.Purge(c.Request.Context(), before)
	if err != nil {
		httperr.Abort(c, err, "purge dlq")
		return
	}
	c.JSON(http.StatusOK, PurgeDLQResponse{Purged: n})
}

func (r PurgeDLQRequest) cutoff(now time.Time) (time.Time, error) {
	switch {
	case r.Before != nil && r.OlderThan != "":
		return time.Time{}, errors.Wrap(renderq.ErrInvalidConfig, "set either before or older_than")
	case r.Before != nil:
		return *r.Before, nil
	case r.OlderThan != "":
		d, err := time.ParseDuration(r.OlderThan)
		if err != nil || d < 0 {
			return time.Time{}, errors.Wrapf(renderq.ErrInvalidConfig, "older_than %q", r.OlderThan)
		}
		return now.Add(-d), nil
	default:
		return time.Time{}, errors.Wrap(renderq.ErrInvalidConfig, "before or older_than is required")
	}
}

func dlqIDParam(c *gin.Context) (id.DLQID, bool) {
	entryID, err := id.ParseDLQID(c.Param("entryId"))
	if err != nil {
		httperr.BadRequest(c, err, "invalid dlq entry id")
		return id.Nil, false
	}
	return entryID, true
}
