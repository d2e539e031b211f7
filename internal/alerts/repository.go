package alerts

import (
	"context"
	"time"

	"activity-monitor/internal/rules"
)

// Repository persists alerts. Alerts are mutated only through the
// event-merge, acknowledge and assign paths; there is no delete.
type Repository interface {
	Insert(ctx context.Context, a Alert) error
	Get(ctx context.Context, id string) (Alert, error)

	// FindOpen returns the newest unacknowledged alert for (rule, key) created at or after since.
	FindOpen(ctx context.Context, rule rules.Name, key string, since time.Time) (Alert, bool, error)
	// FindByEvent returns the newest alert for (rule, key) that ever recorded eventID,
	// including ids since trimmed from EventIDs.
	FindByEvent(ctx context.Context, rule rules.Name, key, eventID string) (Alert, bool, error)
	// MergeEvents records ids against the alert and appends the never-recorded ones to
	// EventIDs, keeping at most max. It returns the updated alert plus the number of new ids.
	// UpdatedAt moves only when ids were added.
	MergeEvents(ctx context.Context, id string, ids []string, max int, at time.Time) (Alert, int, error)

	Acknowledge(ctx context.Context, id, by string, at time.Time) (Alert, error)
	Assign(ctx context.Context, id, actor string, at time.Time) (Alert, error)

	// Query returns one page newest-first plus the total match count.
	Query(ctx context.Context, f Filter) ([]Alert, int, error)
	// CountOpenBySeverity counts unacknowledged alerts per severity.
	CountOpenBySeverity(ctx context.Context) (map[rules.Severity]int, error)
}
