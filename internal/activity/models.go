package activity

import "time"

// Event is an immutable, append-only record of something observed in the business application.
//
// Invariants:
// - Events are never updated or deleted by the engine.
// - Empty optional strings are stored as NULL.
// - Windowed reads order by timestamp, ties broken by id.
type Event struct {
	ID        string    `json:"id" db:"id"`
	Timestamp time.Time `json:"timestamp" db:"ts"`

	// Actor is the email (or id) of the user causing the event, if known.
	Actor string `json:"actor,omitempty" db:"actor"`

	Kind     Kind     `json:"kind" db:"kind"`
	Severity Severity `json:"severity" db:"severity"`

	// Origin is the client network address.
	Origin   string `json:"origin,omitempty" db:"origin"`
	Device   string `json:"device,omitempty" db:"device"`
	Resource string `json:"resource,omitempty" db:"resource"`

	Summary string `json:"summary" db:"summary"`

	// Payload is kind-specific, e.g. export_size_mb for data_export.
	Payload         map[string]any `json:"payload,omitempty" db:"payload"`
	RelatedEventIDs []string       `json:"related_event_ids,omitempty" db:"related_event_ids"`

	ServerLogs string `json:"server_logs,omitempty" db:"server_logs"`
	StackTrace string `json:"stack_trace,omitempty" db:"stack_trace"`
}

type Kind string

const (
	KindLogin            Kind = "login"
	KindLogout           Kind = "logout"
	KindFailedLogin      Kind = "failed_login"
	KindPermissionChange Kind = "permission_change"
	KindDataExport       Kind = "data_export"
	KindFileUpload       Kind = "file_upload"
	KindConfigChange     Kind = "config_change"
	KindAPIError         Kind = "api_error"
)

// Kinds lists the closed kind set in declaration order.
var Kinds = []Kind{
	KindLogin, KindLogout, KindFailedLogin, KindPermissionChange,
	KindDataExport, KindFileUpload, KindConfigChange, KindAPIError,
}

func (k Kind) Valid() bool {
	switch k {
	case KindLogin, KindLogout, KindFailedLogin, KindPermissionChange,
		KindDataExport, KindFileUpload, KindConfigChange, KindAPIError:
		return true
	default:
		return false
	}
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// Filter selects events for paginated reads. Zero values impose no constraint.
type Filter struct {
	Start      time.Time
	End        time.Time
	Severities []Severity
	Kinds      []Kind
	Actor      string

	Page     int
	PageSize int
}

// Offset returns the row offset for a normalized filter.
func (f Filter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

func (f Filter) matches(e Event) bool {
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	return true
}

// WindowQuery selects events of one kind inside a trailing window.
// Since is inclusive. Until is inclusive; zero means unbounded.
type WindowQuery struct {
	Kind   Kind
	Origin string // empty: any origin
	Since  time.Time
	Until  time.Time
}

func (q WindowQuery) matches(e Event) bool {
	if e.Kind != q.Kind {
		return false
	}
	if q.Origin != "" && e.Origin != q.Origin {
		return false
	}
	if e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	return true
}

func containsSeverity(set []Severity, s Severity) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsKind(set []Kind, k Kind) bool {
	for _, v := range set {
		if v == k {
			return true
		}
	}
	return false
}
