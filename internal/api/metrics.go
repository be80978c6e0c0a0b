package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/sscm-labs/sscm-relay/internal/pairing"
)

// onlineWindow is how recently a device must have reported to count as
// online in the dashboard snapshot.
const onlineWindow = 5 * time.Minute

// SystemMetrics is the body of GET /api/system/metrics.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	Relay         RelayMetrics    `json:"relay"`
	Devices       DeviceMetrics   `json:"devices"`
	MQTT          *MQTTMetrics    `json:"mqtt,omitempty"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics is a subset of the Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
	LastGCPauseUS uint64  `json:"last_gc_pause_us"`
}

// RelayMetrics counts open connections and devices with subscribers.
type RelayMetrics struct {
	Connections       int `json:"connections"`
	SubscribedDevices int `json:"subscribed_devices"`
}

// DeviceMetrics is the directory broken down by pairing state. Online
// counts devices seen within the last five minutes.
type DeviceMetrics struct {
	pairing.Summary
	Online int `json:"online"`
}

// MQTTMetrics reports the event mirror's broker link.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DatabaseMetrics is the SQLite pool state.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics serves the admin dashboard snapshot. Prometheus scrapes
// /metrics instead.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	m := SystemMetrics{
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(now.Sub(s.startTime).Seconds()),
		Runtime:       runtimeMetrics(),
		Relay: RelayMetrics{
			Connections:       s.hub.ClientCount(),
			SubscribedDevices: s.registry.DeviceCount(),
		},
	}

	sum, err := s.pairing.Summarize(r.Context(), now.Add(-onlineWindow))
	if err != nil {
		s.logger.Error("summarizing devices", "error", err)
		writeInternalError(w, "failed to read device directory")
		return
	}
	m.Devices = DeviceMetrics{Summary: sum, Online: sum.SeenSince}

	if s.mqtt != nil {
		m.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}
	if s.db != nil {
		st := s.db.Stats()
		m.Database = DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, m)
}

func runtimeMetrics() RuntimeMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(ms.HeapAlloc) / (1 << 20),
		NumGC:         ms.NumGC,
		LastGCPauseUS: ms.PauseNs[(ms.NumGC+255)%256] / 1000,
	}
}
