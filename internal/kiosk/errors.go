package kiosk

import "errors"

var (
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("kiosk: manager closed")

	// ErrDial is returned when the relay cannot be reached. A reconnect
	// has already been scheduled when it is returned.
	ErrDial = errors.New("kiosk: dial failed")
)
