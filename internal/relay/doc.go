// Package relay fans envelopes out between kiosks, main boards and camera
// modules.
//
// A Registry tracks which connections subscribe to which device ids. The
// Router decodes each inbound frame and applies the rule for its kind:
// verbatim relay, write-through to the device directory, cross-role relay
// between a camera and its main board, directed classification dispatch,
// liveness acks, or subscription management. Unknown and malformed frames
// are logged and counted, never fatal to the connection.
//
// Directory writes pass through a circuit breaker so a failing database
// degrades the relay to pure forwarding instead of stalling it.
package relay
