// Package api serves the relay's HTTP surface.
//
// It provides:
//   - the relay upgrade endpoint (GET /api/ws), one reader and one writer
//     goroutine per connection, feeding the relay router
//   - device routes used by main boards (register, status, heartbeat)
//   - admin routes for pairing, unpairing, listing, audit and restart
//   - health, Prometheus and runtime metrics endpoints
//   - middleware for request IDs, logging, panic recovery, CORS, body
//     size limits, request metrics and rate limiting
//
// # Authentication
//
// Devices connect to the relay with ?deviceId=SSCM-... and need no token.
// Everyone else presents an HS256 token in the Authorization header, the
// token query parameter or the auth-token cookie. Admin routes require a
// token whose role grants the route's permission.
package api
