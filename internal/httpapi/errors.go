package httpapi

import (
	"errors"
	"net/http"

	"activity-monitor/internal/apperr"
	"activity-monitor/pkg/logger"

	"github.com/gin-gonic/gin"
)

// statusFor maps the engine error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError aborts with a JSON error body. Server-side failures are logged and
// their detail withheld from the client.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.From(c.Request.Context()).Error("request failed", "status", status, "error", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
