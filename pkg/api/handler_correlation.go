package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// globalCorrelationHandler handles GET /correlation/global. Compute
// failures degrade to an empty payload with an error marker, never a 5xx.
func (s *Server) globalCorrelationHandler(c *gin.Context) {
	p, err := correlationParams(c, 20)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.correlation.Global(c.Request.Context(), p))
}

// correlationGraphHandler handles GET /correlation/graph. The graph view
// keeps its sample size small.
func (s *Server) correlationGraphHandler(c *gin.Context) {
	p, err := correlationParams(c, 5)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.correlation.Graph(c.Request.Context(), p))
}
