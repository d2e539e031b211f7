package rbac

import "strings"

// Role is a business application role. Keep these stable; they are part of auth/RBAC contracts.
type Role string

const (
	RoleCEO         Role = "ceo"
	RoleStorekeeper Role = "storekeeper"
	RoleSeller      Role = "seller"
	RolePurchaser   Role = "purchaser"
	RoleDriver      Role = "driver"
	RoleIT          Role = "it"
	RoleAdmin       Role = "admin"
)

// ParseRole maps a raw role string to the closed Role set.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleCEO, RoleStorekeeper, RoleSeller, RolePurchaser, RoleDriver, RoleIT, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// IsPrivileged reports whether the role may move data and reach the monitoring endpoints.
func IsPrivileged(r Role) bool { return r == RoleAdmin || r == RoleIT }
