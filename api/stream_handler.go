package api

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xraph/renderq/api/httperr"
	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/stream"
)

// SSESnapshot names the first frame of a job event stream.
const SSESnapshot = "snapshot"

// jobEvents streams one job's transitions and progress as Server-Sent
// Events. The first frame is a snapshot of the job; the stream ends after
// a terminal transition or when the client goes away.
func (a *API) jobEvents(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	// Subscribe before reading the snapshot so no transition falls in
	// between.
	broker := a.eng.Stream()
	sub := broker.Subscribe("sse-"+uuid.NewString(), stream.JobTopic(jobID.String()))
	defer broker.RemoveSubscriber(sub.ID())

	j, err := a.eng.Status(ctx, jobID)
	if err != nil {
		httperr.Abort(c, err, "get job")
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(SSESnapshot, NewJobResponse(j))
	c.Writer.Flush()
	if j.State.IsTerminal() {
		return
	}

	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case evt, open := <-sub.C():
			if !open {
				return false
			}
			c.SSEvent(string(evt.Type), evt)
			return !isTerminalEvent(evt.Type)
		case <-ticker.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}
	})
}

func isTerminalEvent(t stream.EventType) bool {
	switch event.Type(t) {
	case event.TypeCompleted, event.TypeDeadLettered, event.TypeCancelled:
		return true
	}
	return false
}
