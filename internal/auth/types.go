package auth

import "errors"

// Role is the authorisation tier carried in a token.
type Role string

const (
	// RoleKiosk is a kiosk terminal or other non-device relay client. It
	// may watch devices over the relay but not change pairing.
	RoleKiosk Role = "kiosk"

	// RoleAdmin pairs, unpairs and restarts devices and reads their
	// audit trail.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleKiosk, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
)
