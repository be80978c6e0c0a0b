// Package auth issues and validates the relay's HS256 access tokens.
//
// Devices connect with their device id alone. Everyone else (kiosk
// terminals, admin tools) presents a bearer token whose role decides what
// it may do: kiosks may watch devices over the relay, admins may also
// pair, unpair, restart and audit them. Permissions are a static
// role-to-capability map with no database lookup.
package auth
