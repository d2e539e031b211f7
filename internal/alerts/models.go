package alerts

import (
	"time"

	"activity-monitor/internal/activity"
	"activity-monitor/internal/rules"
)

// ManualRule names alerts opened by an operator rather than by a rule.
const ManualRule rules.Name = "manual"

// MaxEventIDs bounds the contributing event list kept on one alert.
const MaxEventIDs = rules.MaxContributingEvents

// Alert is one correlated firing of a rule.
//
// Invariants:
// - EventIDs is never empty.
// - Severity is set at creation and never changed.
// - Acknowledged only moves from false to true.
type Alert struct {
	ID             string     `json:"id"`
	RuleName       rules.Name `json:"rule_name"`
	CorrelationKey string     `json:"correlation_key"`
	EventIDs       []string   `json:"event_ids"`

	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    rules.Severity `json:"severity"`

	Acknowledged   bool   `json:"acknowledged"`
	AcknowledgedBy string `json:"acknowledged_by,omitempty"`
	AssignedTo     string `json:"assigned_to,omitempty"`

	SuggestedActions []rules.Action `json:"suggested_actions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter selects alerts for paginated reads. Start and End bound CreatedAt, inclusive.
type Filter struct {
	Start      time.Time
	End        time.Time
	Severities []rules.Severity
	// Acknowledged is tri-state: nil matches both.
	Acknowledged *bool
	Rule         rules.Name

	Page     int
	PageSize int
}

func (f Filter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// NormalizeFilter applies the same paging defaults as event reads.
func NormalizeFilter(f Filter) Filter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = activity.DefaultPageSize
	}
	if f.PageSize > activity.MaxPageSize {
		f.PageSize = activity.MaxPageSize
	}
	return f
}

func (f Filter) matches(a Alert) bool {
	if !f.Start.IsZero() && a.CreatedAt.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && a.CreatedAt.After(f.End) {
		return false
	}
	if len(f.Severities) > 0 {
		found := false
		for _, s := range f.Severities {
			if s == a.Severity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Acknowledged != nil && a.Acknowledged != *f.Acknowledged {
		return false
	}
	if f.Rule != "" && a.RuleName != f.Rule {
		return false
	}
	return true
}

// Outcome says what HandleFiring did with a firing.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	// OutcomeMerged: new event ids were folded into an open alert.
	OutcomeMerged Outcome = "merged"
	// OutcomeSuppressed: every event id was already recorded (replay).
	OutcomeSuppressed Outcome = "suppressed"
)

type Result struct {
	Alert   Alert   `json:"alert"`
	Outcome Outcome `json:"outcome"`
}

// IncidentRequest opens an alert by hand.
type IncidentRequest struct {
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Severity         rules.Severity `json:"severity"`
	EventIDs         []string       `json:"event_ids"`
	AssignedTo       string         `json:"assigned_to,omitempty"`
	SuggestedActions []rules.Action `json:"suggested_actions,omitempty"`
}

// mergeIDs appends ids not yet in existing, keeping the newest max entries.
// It returns the merged list and how many ids were new. Stores pass only ids
// the alert has never recorded, so ids trimmed earlier are never re-added.
func mergeIDs(existing, ids []string, max int) ([]string, int) {
	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	out := append([]string(nil), existing...)
	added := 0
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		added++
	}
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out, added
}
