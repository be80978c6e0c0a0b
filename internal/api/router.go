package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sscm-labs/sscm-relay/internal/auth"
)

// defaultRelayPath is used when the websocket path is not configured.
const defaultRelayPath = "/api/ws"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	relayPath := s.wsCfg.Path
	if relayPath == "" {
		relayPath = defaultRelayPath
	}
	r.Get(relayPath, s.handleRelay)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.With(s.requirePermission(auth.PermDeviceList)).Get("/system/metrics", s.handleMetrics)

		r.Route("/device", func(r chi.Router) {
			// Device routes: called by the boards themselves, no token.
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware())
				r.Post("/register", s.handleRegister)
				r.Post("/status", s.handleHeartbeat)
				r.Get("/{deviceId}/status", s.handleDeviceStatus)
			})

			// Admin routes
			r.With(s.requirePermission(auth.PermDeviceList)).Get("/list", s.handleListDevices)
			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDevicePair))
				r.Post("/{deviceId}/pair", s.handlePair)
				r.Delete("/{deviceId}/pair", s.handleUnpair)
			})
			r.With(s.requirePermission(auth.PermDeviceAudit)).Get("/{deviceId}/audit", s.handleDeviceAudit)
			r.With(s.requirePermission(auth.PermDeviceReboot)).Post("/{deviceId}/restart", s.handleRestart)
		})
	})

	return r
}
