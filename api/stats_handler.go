package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xraph/renderq/api/httperr"
)

const healthTimeout = 2 * time.Second

func (a *API) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, a.eng.Metrics())
}

func (a *API) stats(c *gin.Context) {
	s, err := a.eng.Stats(c.Request.Context())
	if err != nil {
		httperr.Abort(c, err, "read stats")
		return
	}
	c.JSON(http.StatusOK, s)
}

func (a *API) pause(c *gin.Context) {
	a.eng.Pause()
	c.JSON(http.StatusOK, QueueResponse{Paused: true})
}

func (a *API) resume(c *gin.Context) {
	a.eng.Resume()
	c.JSON(http.StatusOK, QueueResponse{Paused: false})
}

func (a *API) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := a.eng.Store().Ping(ctx); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
