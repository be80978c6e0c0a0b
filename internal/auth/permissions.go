package auth

// Permission is a named capability.
type Permission string

// Permissions.
const (
	// PermRelayConnect allows opening a relay connection without a
	// device id.
	PermRelayConnect Permission = "relay:connect"
	PermDevicePair   Permission = "device:pair"
	PermDeviceList   Permission = "device:list"
	PermDeviceAudit  Permission = "device:audit"
	PermDeviceReboot Permission = "device:restart"
)

var rolePermissions = map[Role][]Permission{
	RoleKiosk: {
		PermRelayConnect,
	},
	RoleAdmin: {
		PermRelayConnect,
		PermDevicePair,
		PermDeviceList,
		PermDeviceAudit,
		PermDeviceReboot,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of role's permissions, or nil.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
