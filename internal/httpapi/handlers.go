package httpapi

import (
	"net/http"
	"strings"
	"time"

	"activity-monitor/internal/activity"
	"activity-monitor/internal/alerts"
	"activity-monitor/internal/auth"
	"activity-monitor/internal/monitor"
	"activity-monitor/internal/query"
	"activity-monitor/internal/rules"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Engine *monitor.Engine
	Query  *query.Service

	// Now stamps events submitted without a timestamp. Defaults to time.Now.
	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Events ---

type ingestRequest struct {
	Timestamp       *time.Time     `json:"timestamp"`
	Actor           string         `json:"actor"`
	Kind            string         `json:"kind"`
	Severity        string         `json:"severity"`
	Origin          string         `json:"origin"`
	Device          string         `json:"device"`
	Resource        string         `json:"resource"`
	Summary         string         `json:"summary"`
	Payload         map[string]any `json:"payload"`
	RelatedEventIDs []string       `json:"related_event_ids"`
	ServerLogs      string         `json:"server_logs"`
	StackTrace      string         `json:"stack_trace"`
}

func (r ingestRequest) event(now time.Time) activity.Event {
	ts := now
	if r.Timestamp != nil && !r.Timestamp.IsZero() {
		ts = *r.Timestamp
	}
	return activity.Event{
		Timestamp:       ts,
		Actor:           r.Actor,
		Kind:            activity.Kind(r.Kind),
		Severity:        activity.Severity(r.Severity),
		Origin:          r.Origin,
		Device:          r.Device,
		Resource:        r.Resource,
		Summary:         r.Summary,
		Payload:         r.Payload,
		RelatedEventIDs: r.RelatedEventIDs,
		ServerLogs:      r.ServerLogs,
		StackTrace:      r.StackTrace,
	}
}

// IngestEvent stores one event and runs every rule against it before responding.
func (h Handlers) IngestEvent(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return
	}
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Engine.Ingest(c.Request.Context(), req.event(h.now()))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ReplayEvent re-evaluates a stored event. Safe to repeat.
func (h Handlers) ReplayEvent(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return
	}
	res, err := h.Engine.Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) ListEvents(c *gin.Context) {
	if h.Query == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "query not configured"})
		return
	}
	var p listParams
	if !p.parse(c) {
		return
	}
	f := activity.Filter{
		Start:    p.start,
		End:      p.end,
		Actor:    strings.TrimSpace(c.Query("actor")),
		Page:     p.page,
		PageSize: p.perPage,
	}
	for _, s := range c.QueryArray("severity") {
		f.Severities = append(f.Severities, activity.Severity(s))
	}
	for _, k := range c.QueryArray("kind") {
		f.Kinds = append(f.Kinds, activity.Kind(k))
	}

	page, err := h.Query.Events(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, paged(page))
}

func (h Handlers) GetEvent(c *gin.Context) {
	if h.Query == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "query not configured"})
		return
	}
	e, err := h.Query.Event(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// --- Alerts ---

func (h Handlers) ListAlerts(c *gin.Context) {
	if h.Query == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "query not configured"})
		return
	}
	var p listParams
	if !p.parse(c) {
		return
	}
	f := alerts.Filter{
		Start:    p.start,
		End:      p.end,
		Rule:     rules.Name(strings.TrimSpace(c.Query("rule"))),
		Page:     p.page,
		PageSize: p.perPage,
	}
	for _, s := range c.QueryArray("severity") {
		f.Severities = append(f.Severities, rules.Severity(s))
	}
	switch v := strings.TrimSpace(c.Query("acknowledged")); v {
	case "":
	case "true", "false":
		ack := v == "true"
		f.Acknowledged = &ack
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "acknowledged must be true or false"})
		return
	}

	page, err := h.Query.Alerts(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, paged(page))
}

func (h Handlers) GetAlert(c *gin.Context) {
	if h.Query == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "query not configured"})
		return
	}
	a, err := h.Query.Alert(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) AlertSummary(c *gin.Context) {
	if h.Query == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "query not configured"})
		return
	}
	s, err := h.Query.Summary(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// AcknowledgeAlert records the calling operator as the acknowledger.
func (h Handlers) AcknowledgeAlert(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return
	}
	actor, err := auth.Actor(c.Request.Context())
	if err != nil || actor == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "actor required"})
		return
	}
	a, err := h.Engine.Acknowledge(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type assignRequest struct {
	AssignedTo string `json:"assigned_to"`
}

func (h Handlers) AssignAlert(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, err := h.Engine.Assign(c.Request.Context(), c.Param("id"), req.AssignedTo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) CreateIncident(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "engine not configured"})
		return
	}
	var req alerts.IncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, err := h.Engine.CreateIncident(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}
