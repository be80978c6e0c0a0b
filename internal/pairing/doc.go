// Package pairing implements the device pairing protocol.
//
// A main board registers itself with a freshly generated six-digit code
// and shows that code on its display. An admin types the code into the
// dashboard; Pair succeeds only if the device exists, is not yet paired
// and the code matches. On success the code is cleared in the same write
// that marks the device paired, and every subscriber of the device gets a
// device-update so the kiosk leaves its pairing screen.
//
//	register(code) ─▶ unpaired(code) ──pair(code)──▶ paired ──unpair──▶ unpaired
//	                        ▲                                              │
//	                        └──────────────── register(new code) ◀─────────┘
package pairing
