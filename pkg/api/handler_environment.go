package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listEnvironmentsHandler handles GET /environments. No clustering runs
// here; overlays are computed by the correlation endpoint.
func (s *Server) listEnvironmentsHandler(c *gin.Context) {
	items := s.environments.List(c.Request.Context())
	c.JSON(http.StatusOK, EnvironmentList{Items: items})
}

// environmentDetailHandler handles GET /environments/:id.
func (s *Server) environmentDetailHandler(c *gin.Context) {
	detail, err := s.environments.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// environmentCorrelationHandler handles GET /environments/:id/correlation.
func (s *Server) environmentCorrelationHandler(c *gin.Context) {
	corr, err := s.environments.Correlation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, corr)
}
