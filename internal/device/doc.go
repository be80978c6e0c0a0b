// Package device implements the device directory: the durable record of
// every SSCM main board and camera module.
//
// # Architecture
//
//	┌──────────────┐   Mutate / Get   ┌──────────────┐
//	│ pairing,     │ ───────────────▶ │  Directory   │  per-device lock + cache
//	│ relay router │                  └──────┬───────┘
//	└──────────────┘                         │ Repository
//	                                         ▼
//	                                  ┌──────────────┐
//	                                  │ SQLite table │  devices
//	                                  └──────────────┘
//
// Writes for one device id are serialized by the Directory; writes for
// different ids proceed in parallel. Every Repository call is a single
// transaction.
//
// Invariant: a device that carries a pairing code is unpaired. The code is
// cleared by the same write that marks the device paired.
package device
