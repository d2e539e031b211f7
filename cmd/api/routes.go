package main

import (
	"activity-monitor/internal/httpapi"
	"activity-monitor/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := httpapi.Handlers{Engine: a.engine, Query: a.query}

	// Everything under /v1 is for IT staff and admins only.
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireMonitoringAccess())
	v1.Use(httpapi.RecordAPIErrors(a.engine))
	{
		events := v1.Group("/events")
		{
			events.POST("", h.IngestEvent)
			events.GET("", h.ListEvents)
			events.GET("/:id", h.GetEvent)
			events.POST("/:id/replay", h.ReplayEvent)
		}

		alerts := v1.Group("/alerts")
		{
			alerts.GET("", h.ListAlerts)
			alerts.GET("/summary", h.AlertSummary)
			alerts.GET("/:id", h.GetAlert)
			alerts.POST("/:id/acknowledge", h.AcknowledgeAlert)
			alerts.POST("/:id/assign", h.AssignAlert)
		}

		v1.POST("/incidents", h.CreateIncident)
	}
}
