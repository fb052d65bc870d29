package accounts

// Permission is a named capability granted to roles.
type Permission string

const (
	PermissionViewUsers        Permission = "view users"
	PermissionCreateUsers      Permission = "create users"
	PermissionUpdateUsers      Permission = "update users"
	PermissionDeleteUsers      Permission = "delete users"
	PermissionImpersonateUsers Permission = "impersonate users"
)

var permissions = []Permission{
	PermissionViewUsers,
	PermissionCreateUsers,
	PermissionUpdateUsers,
	PermissionDeleteUsers,
	PermissionImpersonateUsers,
}

// AllPermissions returns the closed permission set in registry order.
func AllPermissions() []Permission {
	out := make([]Permission, len(permissions))
	copy(out, permissions)
	return out
}

// ParsePermission returns the permission named s.
func ParsePermission(s string) (Permission, bool) {
	for _, p := range permissions {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

func (p Permission) String() string {
	return string(p)
}

func permissionIndex(p Permission) int {
	for i, candidate := range permissions {
		if candidate == p {
			return i
		}
	}
	return len(permissions)
}
