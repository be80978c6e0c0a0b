// Package deviceid models SSCM hardware identities.
//
// Every kiosk is a main board ("SSCM-" + six uppercase hex digits) that may
// carry a detachable camera module sharing the same serial
// ("SSCM-CAM-" + the same six digits). An ID can only be obtained through
// Parse or New, so every ID value in the program is well formed.
package deviceid

import (
	"errors"
	"fmt"
	"strings"
)

// Role distinguishes the main board from its camera module.
type Role uint8

const (
	// RoleMain is the ESP32 main board that owns payment and service hardware.
	RoleMain Role = iota + 1
	// RoleCamera is the camera module that runs classification.
	RoleCamera
)

func (r Role) String() string {
	switch r {
	case RoleMain:
		return "main"
	case RoleCamera:
		return "camera"
	default:
		return "unknown"
	}
}

const (
	mainPrefix   = "SSCM-"
	cameraPrefix = "SSCM-CAM-"
	serialLen    = 6
)

// ErrInvalid is returned for strings that are not device ids.
var ErrInvalid = errors.New("deviceid: invalid device id")

// ID is a parsed device identity. The zero value is not a valid ID.
type ID struct {
	role   Role
	serial string
}

// New builds an ID from a role and serial.
func New(role Role, serial string) (ID, error) {
	if role != RoleMain && role != RoleCamera {
		return ID{}, fmt.Errorf("%w: unknown role", ErrInvalid)
	}
	if !validSerial(serial) {
		return ID{}, fmt.Errorf("%w: serial %q", ErrInvalid, serial)
	}
	return ID{role: role, serial: serial}, nil
}

// Parse reads the wire form of a device id.
func Parse(s string) (ID, error) {
	if rest, ok := strings.CutPrefix(s, cameraPrefix); ok {
		if validSerial(rest) {
			return ID{role: RoleCamera, serial: rest}, nil
		}
		return ID{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if rest, ok := strings.CutPrefix(s, mainPrefix); ok && validSerial(rest) {
		return ID{role: RoleMain, serial: rest}, nil
	}
	return ID{}, fmt.Errorf("%w: %q", ErrInvalid, s)
}

// MustParse is Parse for constants and tests. It panics on bad input.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Valid reports whether s is the wire form of a device id of any role.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func validSerial(s string) bool {
	if len(s) != serialLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Role returns the hardware role.
func (id ID) Role() Role { return id.role }

// Serial returns the six hex digits shared by a main board and its camera.
func (id ID) Serial() string { return id.serial }

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id.role == 0 }

// IsMain reports whether id names a main board.
func (id ID) IsMain() bool { return id.role == RoleMain }

// IsCamera reports whether id names a camera module.
func (id ID) IsCamera() bool { return id.role == RoleCamera }

// Main returns the main board id with the same serial.
func (id ID) Main() ID { return ID{role: RoleMain, serial: id.serial} }

// Camera returns the camera module id with the same serial.
func (id ID) Camera() ID { return ID{role: RoleCamera, serial: id.serial} }

// Sibling returns the id of the other role with the same serial.
func (id ID) Sibling() ID {
	if id.role == RoleCamera {
		return id.Main()
	}
	return id.Camera()
}

// String renders the wire form. The zero ID renders as "".
func (id ID) String() string {
	switch id.role {
	case RoleMain:
		return mainPrefix + id.serial
	case RoleCamera:
		return cameraPrefix + id.serial
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("%w: zero value", ErrInvalid)
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
