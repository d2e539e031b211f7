package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"activity-monitor/internal/activity"
	"activity-monitor/internal/alerts"
	"activity-monitor/internal/apperr"
	"activity-monitor/internal/metrics"
	"activity-monitor/internal/notify"
	"activity-monitor/internal/rules"
	"activity-monitor/pkg/logger"
)

// Evaluator decides which rules fire for a stored event.
type Evaluator interface {
	Evaluate(ctx context.Context, e activity.Event) ([]rules.Firing, error)
}

// RoleCache is a cached actor->role lookup the engine invalidates when a
// permission_change event arrives for that actor.
type RoleCache interface {
	Remove(actor string)
}

// Deps wires the engine. Roles, Notifier, Metrics and Logger are optional.
type Deps struct {
	Events    *activity.Service
	Evaluator Evaluator
	Alerts    *alerts.Manager
	Roles     RoleCache
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Engine is the synchronous ingestion pipeline: append, evaluate every rule,
// correlate each firing into an alert. The caller sees the alert outcomes.
//
// Failure semantics:
//   - validation errors: nothing stored, nothing evaluated
//   - evaluation or correlation errors: the event stays stored (append-only),
//     the call fails, and Replay can re-run evaluation safely
type Engine struct {
	events    *activity.Service
	evaluator Evaluator
	alerts    *alerts.Manager
	roles     RoleCache
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewEngine(d Deps) *Engine {
	if d.Notifier == nil {
		d.Notifier = notify.Noop{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(nil)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Engine{
		events:    d.Events,
		evaluator: d.Evaluator,
		alerts:    d.Alerts,
		roles:     d.Roles,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		log:       d.Logger,
	}
}

// Result is what one ingestion produced.
type Result struct {
	Event  activity.Event  `json:"event"`
	Alerts []alerts.Result `json:"alerts"`
}

// Created returns the alerts opened by this ingestion.
func (r Result) Created() []alerts.Alert {
	var out []alerts.Alert
	for _, a := range r.Alerts {
		if a.Outcome == alerts.OutcomeCreated {
			out = append(out, a.Alert)
		}
	}
	return out
}

func (en *Engine) Ingest(ctx context.Context, e activity.Event) (Result, error) {
	stored, err := en.events.Append(ctx, e)
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			en.metrics.EventsRejected.Inc()
		}
		return Result{}, err
	}
	en.metrics.EventsIngested.WithLabelValues(string(stored.Kind)).Inc()

	// The actor of a permission_change is the account whose role changed.
	if stored.Kind == activity.KindPermissionChange && en.roles != nil {
		en.roles.Remove(stored.Actor)
	}

	res, err := en.evaluate(ctx, stored)
	if err != nil {
		return Result{Event: stored}, fmt.Errorf("evaluate event %s: %w", stored.ID, err)
	}
	return res, nil
}

// Replay re-runs evaluation for a stored event. Alert correlation makes this
// safe to repeat; it never opens a second alert for the same event.
func (en *Engine) Replay(ctx context.Context, eventID string) (Result, error) {
	stored, err := en.events.Get(ctx, eventID)
	if err != nil {
		return Result{}, err
	}
	return en.evaluate(ctx, stored)
}

func (en *Engine) evaluate(ctx context.Context, e activity.Event) (Result, error) {
	log := en.log
	if l, ok := logger.Lookup(ctx); ok {
		log = l
	}
	start := time.Now()
	defer func() { en.metrics.EvaluationDuration.Observe(time.Since(start).Seconds()) }()

	firings, err := en.evaluator.Evaluate(ctx, e)
	if err != nil {
		en.metrics.EvaluationFailures.Inc()
		log.Error("rule evaluation failed", "event_id", e.ID, "kind", e.Kind, "error", err)
		return Result{Event: e}, err
	}

	res := Result{Event: e, Alerts: make([]alerts.Result, 0, len(firings))}
	for _, f := range firings {
		en.metrics.RuleFirings.WithLabelValues(string(f.Rule.Name)).Inc()

		ar, err := en.alerts.HandleFiring(ctx, f)
		if err != nil {
			en.metrics.EvaluationFailures.Inc()
			log.Error("alert correlation failed", "event_id", e.ID, "rule", f.Rule.Name, "error", err)
			return res, fmt.Errorf("correlate %s: %w", f.Rule.Name, err)
		}
		en.metrics.AlertOutcomes.WithLabelValues(string(f.Rule.Name), string(ar.Outcome)).Inc()
		res.Alerts = append(res.Alerts, ar)

		if ar.Outcome == alerts.OutcomeCreated {
			en.notify(ctx, ar.Alert)
		}
	}
	return res, nil
}

// CreateIncident opens a manual alert over existing events.
func (en *Engine) CreateIncident(ctx context.Context, req alerts.IncidentRequest) (alerts.Alert, error) {
	for _, id := range req.EventIDs {
		if _, err := en.events.Get(ctx, id); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return alerts.Alert{}, apperr.Invalid("event_ids", fmt.Sprintf("unknown event %q", id))
			}
			return alerts.Alert{}, err
		}
	}
	a, err := en.alerts.CreateIncident(ctx, req)
	if err != nil {
		return alerts.Alert{}, err
	}
	en.metrics.AlertOutcomes.WithLabelValues(string(alerts.ManualRule), string(alerts.OutcomeCreated)).Inc()
	en.notify(ctx, a)
	return a, nil
}

func (en *Engine) Acknowledge(ctx context.Context, id, by string) (alerts.Alert, error) {
	a, err := en.alerts.Acknowledge(ctx, id, by)
	if err != nil {
		return alerts.Alert{}, err
	}
	en.metrics.AlertsAcknowledged.Inc()
	return a, nil
}

func (en *Engine) Assign(ctx context.Context, id, actor string) (alerts.Alert, error) {
	return en.alerts.Assign(ctx, id, actor)
}

func (en *Engine) notify(ctx context.Context, a alerts.Alert) {
	if err := en.notifier.AlertCreated(ctx, a); err != nil {
		en.metrics.NotifyFailures.Inc()
		en.log.Warn("alert notification failed", "alert_id", a.ID, "rule", a.RuleName, "error", err)
	}
}
