package httpapi

import (
	"context"
	"net/http"
	"time"

	"activity-monitor/internal/activity"
	"activity-monitor/internal/monitor"
	"activity-monitor/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RecordAPIErrors ingests an api_error event for every 5xx response so the
// api_error_burst rule sees failures of this service too.
func RecordAPIErrors(en *monitor.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < http.StatusInternalServerError {
			return
		}
		msg := http.StatusText(status)
		if last := c.Errors.Last(); last != nil {
			msg = last.Error()
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		e := activity.APIError(time.Now(), c.GetString("actor"), status, msg, activity.Source{
			Origin:   c.ClientIP(),
			Device:   c.Request.UserAgent(),
			Resource: c.Request.Method + " " + route,
		})

		// The request context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 5*time.Second)
		defer cancel()
		if _, err := en.Ingest(ctx, e); err != nil {
			logger.From(c.Request.Context()).Warn("record api error failed", "status", status, "error", err)
		}
	}
}
