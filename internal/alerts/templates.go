package alerts

import (
	"fmt"

	"activity-monitor/internal/rules"
)

// render builds the fixed title and description for a firing. Inputs come
// from stored events, never from request text that needs escaping.
func render(f rules.Firing) (title, description string) {
	switch f.Rule.Name {
	case rules.FailedLoginBurst:
		return "Multiple Failed Login Attempts Detected",
			fmt.Sprintf("Detected %d failed login attempts from IP %s within %s", len(f.Events), f.CorrelationKey, f.Rule.Window)
	case rules.MassDataExport:
		return "Large Data Export by Non-Admin User",
			fmt.Sprintf("User %s exported %.0fMB of data", f.Trigger.Actor, rules.ExportSizeMB(f.Trigger))
	case rules.APIErrorBurst:
		return "High Rate of API Errors",
			fmt.Sprintf("Detected %d API errors within %s", len(f.Events), f.Rule.Window)
	case rules.PermissionChange:
		return "User Permissions Changed",
			fmt.Sprintf("Permissions changed for user %s", f.CorrelationKey)
	default:
		return string(f.Rule.Name), f.Rule.Condition
	}
}
