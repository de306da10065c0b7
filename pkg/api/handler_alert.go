package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listAlertsHandler handles GET /alerts.
func (s *Server) listAlertsHandler(c *gin.Context) {
	limit, err := intQuery(c, "limit", 100)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if limit > 1000 {
		limit = 1000
	}

	alerts, err := s.alerts.List(c.Request.Context(), limit, c.Query("env_id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// persistAlertHandler handles POST /alerts/:id/persist.
func (s *Server) persistAlertHandler(c *gin.Context) {
	id := c.Param("id")
	if err := s.alerts.Persist(c.Request.Context(), id); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "ok", ID: id})
}

// alertFeedbackHandler handles POST /alerts/:id/feedback. The feedback kind
// is validated by the store.
func (s *Server) alertFeedbackHandler(c *gin.Context) {
	id := c.Param("id")
	kind := c.Query("feedback")
	if err := s.alerts.AddFeedback(c.Request.Context(), id, kind); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "ok", ID: id, Feedback: kind})
}
