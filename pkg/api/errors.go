package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loglens/loglens/pkg/services"
)

// mapServiceError maps a service-layer error to an HTTP status and message.
func mapServiceError(err error) (int, string) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest, validErr.Error()
	}
	if errors.Is(err, services.ErrInvalidInput) {
		return http.StatusBadRequest, err.Error()
	}
	if errors.Is(err, services.ErrNotFound) {
		return http.StatusNotFound, "resource not found"
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return http.StatusInternalServerError, "internal server error"
}

// writeServiceError terminates the request with the mapped error response.
func writeServiceError(c *gin.Context, err error) {
	status, msg := mapServiceError(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
