package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *API) listSchedules(c *gin.Context) {
	out := []ScheduleResponse{}
	if a.scheduler != nil {
		for _, e := range a.scheduler.Entries() {
			out = append(out, NewScheduleResponse(e))
		}
	}
	c.JSON(http.StatusOK, out)
}
