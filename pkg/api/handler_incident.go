package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loglens/loglens/pkg/incident"
)

// listIncidentsHandler handles GET /incidents. Present parameters override
// the query defaults; the service clamps ranges.
func (s *Server) listIncidentsHandler(c *gin.Context) {
	q := incident.DefaultQuery()
	q.EnvID = c.Query("env_id")

	var err error
	if q.Limit, err = intQuery(c, "limit", q.Limit); err != nil {
		writeServiceError(c, err)
		return
	}
	if q.IncludeLogs, err = intQuery(c, "include_logs", q.IncludeLogs); err != nil {
		writeServiceError(c, err)
		return
	}
	if q.LimitPerSource, err = intQuery(c, "limit_per_source", q.LimitPerSource); err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, s.incidents.List(c.Request.Context(), q))
}
