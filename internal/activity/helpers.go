package activity

import (
	"fmt"
	"time"
)

// LargeExportMB marks a data export as noteworthy on its own (severity warning).
const LargeExportMB = 100

// Source carries the request attributes shared by the helper constructors.
type Source struct {
	Origin   string
	Device   string
	Resource string
}

func (s Source) apply(e Event) Event {
	e.Origin = s.Origin
	e.Device = s.Device
	e.Resource = s.Resource
	return e
}

func LoginSucceeded(now time.Time, actor string, src Source) Event {
	return src.apply(Event{
		Timestamp: now,
		Actor:     actor,
		Kind:      KindLogin,
		Severity:  SeverityInfo,
		Summary:   fmt.Sprintf("User %s logged in", actor),
	})
}

// LoginFailed records a rejected login. actor is the attempted identity and may be empty.
func LoginFailed(now time.Time, actor, reason string, src Source) Event {
	summary := "Failed login attempt"
	if actor != "" {
		summary = fmt.Sprintf("Failed login attempt for %s", actor)
	}
	if reason != "" {
		summary += ": " + reason
	}
	return src.apply(Event{
		Timestamp: now,
		Actor:     actor,
		Kind:      KindFailedLogin,
		Severity:  SeverityWarning,
		Summary:   summary,
	})
}

// APIError records a failed request. Status codes >= 500 are critical.
func APIError(now time.Time, actor string, status int, message string, src Source) Event {
	sev := SeverityWarning
	if status >= 500 {
		sev = SeverityCritical
	}
	return src.apply(Event{
		Timestamp: now,
		Actor:     actor,
		Kind:      KindAPIError,
		Severity:  sev,
		Summary:   fmt.Sprintf("API error %d on %s", status, src.Resource),
		Payload: map[string]any{
			"status_code":   status,
			"error_message": message,
		},
	})
}

// PermissionChanged records a role or permission change applied to target by changedBy.
func PermissionChanged(now time.Time, target, changedBy, oldValue, newValue string, src Source) Event {
	return src.apply(Event{
		Timestamp: now,
		Actor:     target,
		Kind:      KindPermissionChange,
		Severity:  SeverityInfo,
		Summary:   fmt.Sprintf("Permissions changed for %s by %s", target, changedBy),
		Payload: map[string]any{
			"changed_by": changedBy,
			"old_value":  oldValue,
			"new_value":  newValue,
		},
	})
}

func DataExported(now time.Time, actor string, sizeMB float64, records int, format string, src Source) Event {
	sev := SeverityInfo
	if sizeMB > LargeExportMB {
		sev = SeverityWarning
	}
	return src.apply(Event{
		Timestamp: now,
		Actor:     actor,
		Kind:      KindDataExport,
		Severity:  sev,
		Summary:   fmt.Sprintf("%s exported %d records (%.1fMB, %s)", actor, records, sizeMB, format),
		Payload: map[string]any{
			"export_size_mb": sizeMB,
			"record_count":   records,
			"export_format":  format,
		},
	})
}
