package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loglens/loglens/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /healthz. Only the pipeline's own backing
// stores are checked; a slow LLM backend must not flap the pod.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.rdb.Ping(reqCtx).Err(); err != nil {
		status = healthStatusUnhealthy
		checks["redis"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["redis"] = HealthCheck{Status: healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
