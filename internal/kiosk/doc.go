// Package kiosk is the client side of the relay: a reconnecting WebSocket
// connection owned by a kiosk terminal.
//
// A Manager subscribes to its main board on every open, replays any extra
// subscriptions, caches the board's pairing state from device-update and
// device-online envelopes and fans every inbound envelope out to the
// registered handlers in registration order.
//
// Unintentional closes are retried after base × 2^(attempt-1) up to
// MaxAttempts; with the defaults that is 3, 6, 12, 24 and 48 seconds.
// Close stops retrying.
package kiosk
