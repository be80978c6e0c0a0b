package pairing

import (
	"errors"

	"github.com/sscm-labs/sscm-relay/internal/device"
)

var (
	// ErrDeviceNotFound is returned when the device has never registered.
	ErrDeviceNotFound = device.ErrDeviceNotFound

	// ErrAlreadyPaired is returned by Pair for a device that is paired.
	ErrAlreadyPaired = errors.New("pairing: device already paired")

	// ErrCodeMismatch is returned by Pair when the code does not match.
	ErrCodeMismatch = errors.New("pairing: pairing code mismatch")

	// ErrNotPaired is returned by Heartbeat for an unpaired device.
	ErrNotPaired = errors.New("pairing: device not paired")

	// ErrInvalidCode is returned for codes that are not six digits.
	ErrInvalidCode = errors.New("pairing: pairing code must be 6 digits")

	// ErrNotMainBoard is returned when a camera id is used where only a
	// main board may pair.
	ErrNotMainBoard = errors.New("pairing: only main boards pair")
)
