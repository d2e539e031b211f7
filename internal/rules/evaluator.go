package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"activity-monitor/internal/activity"
	"activity-monitor/internal/apperr"
	"activity-monitor/internal/rbac"
)

// MaxContributingEvents caps the event list carried by a firing and stored on an alert.
const MaxContributingEvents = 50

// GlobalKey is the correlation key of rules that are not scoped to an origin or actor.
const GlobalKey = "global"

// UnknownActorKey stands in for an empty actor.
const UnknownActorKey = "unknown"

// EventStore is the read side of the event store used by rule predicates.
type EventStore interface {
	CountInWindow(ctx context.Context, q activity.WindowQuery) (int, error)
	ListInWindow(ctx context.Context, q activity.WindowQuery, limit int) ([]activity.Event, error)
}

// RoleResolver looks up an actor's role. Unknown actors return an error matching apperr.ErrNotFound.
type RoleResolver interface {
	ResolveActorRole(ctx context.Context, actor string) (rbac.Role, error)
}

// Firing is one rule that fired for an event.
type Firing struct {
	Rule           Rule
	CorrelationKey string
	// Events are the contributing events, oldest first, at most MaxContributingEvents.
	Events []activity.Event
	// Trigger is the event being evaluated.
	Trigger activity.Event
}

// EventIDs returns the ids of the contributing events in order.
func (f Firing) EventIDs() []string {
	out := make([]string, len(f.Events))
	for i, e := range f.Events {
		out[i] = e.ID
	}
	return out
}

// Evaluator decides which rules fire for a newly appended event.
// Each rule is a predicate over the event store plus the new event; no counters are kept.
type Evaluator struct {
	catalog Catalog
	store   EventStore
	roles   RoleResolver
}

func NewEvaluator(catalog Catalog, store EventStore, roles RoleResolver) *Evaluator {
	return &Evaluator{catalog: catalog, store: store, roles: roles}
}

// Evaluate runs every enabled rule in catalog order. Any store or resolver
// failure aborts the whole evaluation; no partial result is returned.
func (ev *Evaluator) Evaluate(ctx context.Context, e activity.Event) ([]Firing, error) {
	var out []Firing
	for _, r := range ev.catalog.rules {
		if !r.Enabled {
			continue
		}
		f, fired, err := ev.evaluateRule(ctx, r, e)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", r.Name, err)
		}
		if fired {
			out = append(out, f)
		}
	}
	return out, nil
}

func (ev *Evaluator) evaluateRule(ctx context.Context, r Rule, e activity.Event) (Firing, bool, error) {
	switch r.Name {
	case FailedLoginBurst:
		// Without an origin there is nothing to correlate on.
		if e.Kind != activity.KindFailedLogin || e.Origin == "" {
			return Firing{}, false, nil
		}
		return ev.burst(ctx, r, e, e.Origin, activity.WindowQuery{
			Kind:   activity.KindFailedLogin,
			Origin: e.Origin,
		})
	case APIErrorBurst:
		if e.Kind != activity.KindAPIError {
			return Firing{}, false, nil
		}
		return ev.burst(ctx, r, e, GlobalKey, activity.WindowQuery{Kind: activity.KindAPIError})
	case MassDataExport:
		if e.Kind != activity.KindDataExport {
			return Firing{}, false, nil
		}
		return ev.massExport(ctx, r, e)
	case PermissionChange:
		if e.Kind != activity.KindPermissionChange {
			return Firing{}, false, nil
		}
		key := e.Actor
		if key == "" {
			key = UnknownActorKey
		}
		return Firing{Rule: r, CorrelationKey: key, Events: []activity.Event{e}, Trigger: e}, true, nil
	default:
		return Firing{}, false, fmt.Errorf("no predicate for rule %q", r.Name)
	}
}

// burst counts q's kind in the trailing window ending at the event's own timestamp.
func (ev *Evaluator) burst(ctx context.Context, r Rule, e activity.Event, key string, q activity.WindowQuery) (Firing, bool, error) {
	q.Since = e.Timestamp.Add(-r.Window)
	q.Until = e.Timestamp

	n, err := ev.store.CountInWindow(ctx, q)
	if err != nil {
		return Firing{}, false, err
	}
	if n < r.Threshold {
		return Firing{}, false, nil
	}

	events, err := ev.store.ListInWindow(ctx, q, MaxContributingEvents)
	if err != nil {
		return Firing{}, false, err
	}
	reverse(events)
	return Firing{Rule: r, CorrelationKey: key, Events: events, Trigger: e}, true, nil
}

func (ev *Evaluator) massExport(ctx context.Context, r Rule, e activity.Event) (Firing, bool, error) {
	size := ExportSizeMB(e)
	if size <= r.MinExportMB || e.Actor == "" {
		return Firing{}, false, nil
	}
	if ev.roles == nil {
		return Firing{}, false, errors.New("role resolver not configured")
	}
	role, err := ev.roles.ResolveActorRole(ctx, e.Actor)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Firing{}, false, nil
		}
		return Firing{}, false, err
	}
	if r.Exempt(role) {
		return Firing{}, false, nil
	}
	return Firing{Rule: r, CorrelationKey: e.Actor, Events: []activity.Event{e}, Trigger: e}, true, nil
}

// ExportSizeMB reads payload export_size_mb. Missing or non-numeric values are 0.
func ExportSizeMB(e activity.Event) float64 {
	v, ok := e.Payload["export_size_mb"]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint64:
		return float64(x)
	case json.Number:
		f, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func reverse(events []activity.Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
