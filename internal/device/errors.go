package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device id has no record.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidPairedState is returned for a PairedState that breaks the
	// code/paired invariant.
	ErrInvalidPairedState = errors.New("device: invalid paired state")
)
