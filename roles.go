package accounts

import (
	"context"
	"strings"
)

// RoleName is the name of one of the two roles.
type RoleName = string

const (
	// RoleMember is the default role, it carries no permissions by default.
	RoleMember RoleName = "member"
	// RoleSuperAdmin is allowed every action, see Gate.
	RoleSuperAdmin RoleName = "super-admin"
)

// DefaultRole is assigned to self registered accounts.
const DefaultRole = RoleMember

var roleLabels = map[RoleName]string{
	RoleMember:     "Member",
	RoleSuperAdmin: "Super Admin",
}

// Roles returns the role names in display order.
func Roles() []RoleName {
	return []RoleName{RoleMember, RoleSuperAdmin}
}

// RoleOptions maps role names to display labels, for admin forms.
func RoleOptions() map[RoleName]string {
	out := make(map[RoleName]string, len(roleLabels))
	for k, v := range roleLabels {
		out[k] = v
	}
	return out
}

// IsValidRole reports whether role is one of the known roles.
func IsValidRole(role string) bool {
	_, ok := roleLabels[role]
	return ok
}

// NormalizeRole trims and lower cases a role name.
func NormalizeRole(role string) RoleName {
	return strings.ToLower(strings.TrimSpace(role))
}

// IsSuperAdmin reports whether the user holds the super role.
func IsSuperAdmin(user *User) bool {
	return user != nil && user.Role == RoleSuperAdmin
}

// RoleStore persists roles and their permission grants.
type RoleStore interface {
	// EnsureProvisioned creates both roles and their default grants.
	// Safe to call repeatedly.
	EnsureProvisioned(ctx context.Context) error
	// PermissionsOf returns the permissions granted to role, in registry order.
	// Unknown roles have no permissions.
	PermissionsOf(ctx context.Context, role RoleName) ([]Permission, error)
	// HasPermission fails closed: a nil user, an unknown role or a store
	// failure all report false.
	HasPermission(ctx context.Context, user *User, p Permission) bool
}

// DefaultGrants returns the permissions provisioned for each role.
func DefaultGrants() map[RoleName][]Permission {
	return map[RoleName][]Permission{
		RoleMember:     {},
		RoleSuperAdmin: AllPermissions(),
	}
}
