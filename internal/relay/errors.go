package relay

import "errors"

var (
	// ErrNoConnection is returned for kinds that need a reply connection
	// when the frame arrived without one (MQTT command ingress).
	ErrNoConnection = errors.New("relay: kind requires a connection")

	// ErrServerKind is returned when a client sends a kind only the relay
	// may originate.
	ErrServerKind = errors.New("relay: relay-originated kind from client")
)
