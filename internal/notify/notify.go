package notify

import (
	"context"
	"time"

	"activity-monitor/internal/alerts"
)

// Notification is published when an alert is opened. Downstream action
// executors read SuggestedActions from it; nothing here runs them.
type Notification struct {
	Type     string       `json:"type"`
	Alert    alerts.Alert `json:"alert"`
	SentAt   time.Time    `json:"sent_at"`
	Producer string       `json:"producer"`
}

const TypeAlertCreated = "alert.created"

// Notifier delivers notifications for new alerts. Delivery is best effort;
// callers log failures and carry on.
type Notifier interface {
	AlertCreated(ctx context.Context, a alerts.Alert) error
	Close() error
}

// Noop drops every notification. Used when no broker is configured.
type Noop struct{}

func (Noop) AlertCreated(context.Context, alerts.Alert) error { return nil }
func (Noop) Close() error                                     { return nil }
