// Package metrics declares the Prometheus instruments of the relay and
// the kiosk client. Instruments register with the default registry at
// init and are exposed by the relay on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Relay connections and subscriptions
	RelayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sscm_relay_connections",
			Help: "Open relay WebSocket connections",
		},
	)

	RelaySubscribedDevices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sscm_relay_subscribed_devices",
			Help: "Device ids with at least one subscriber",
		},
	)

	// Frame routing
	RelayFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sscm_relay_frames_total",
			Help: "Inbound frames by envelope kind and routing class",
		},
		[]string{"kind", "route"},
	)

	RelayFramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sscm_relay_frames_dropped_total",
			Help: "Inbound frames dropped without routing",
		},
		[]string{"reason"}, // "malformed", "unknown_kind", "no_connection"
	)

	RelayDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sscm_relay_deliveries_total",
			Help: "Frames handed to subscriber send queues",
		},
		[]string{"kind"},
	)

	RelaySendQueueFull = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sscm_relay_send_queue_full_total",
			Help: "Frames dropped because a connection's send queue was full",
		},
	)

	// Directory write-through
	DirectoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sscm_directory_writes_total",
			Help: "Write-through directory updates by result",
		},
		[]string{"kind", "result"}, // result: "ok", "error", "not_found", "skipped"
	)

	DirectoryBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sscm_directory_breaker_state",
			Help: "Write-through circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Pairing
	PairingOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sscm_pairing_operations_total",
			Help: "Pairing protocol operations by result",
		},
		[]string{"operation", "result"},
	)

	// HTTP API
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sscm_api_requests_total",
			Help: "HTTP requests by route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sscm_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Telemetry sink
	TelemetryPoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sscm_telemetry_points_total",
			Help: "Telemetry points queued for InfluxDB by measurement",
		},
		[]string{"measurement"},
	)

	TelemetryWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sscm_telemetry_write_errors_total",
			Help: "Asynchronous InfluxDB batch write failures",
		},
	)

	// Kiosk client
	KioskReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sscm_kiosk_reconnect_attempts_total",
			Help: "Reconnect attempts made by the kiosk connection manager",
		},
	)

	ClassificationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sscm_classification_outcomes_total",
			Help: "Finished classification attempts by outcome",
		},
		[]string{"outcome"}, // "success", "error", "busy", "timeout"
	)
)
