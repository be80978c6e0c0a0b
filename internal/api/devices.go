package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sscm-labs/sscm-relay/internal/audit"
	"github.com/sscm-labs/sscm-relay/internal/device"
	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/protocol"
)

type registerRequest struct {
	DeviceID    string `json:"deviceId" validate:"required,sscm_main"`
	PairingCode string `json:"pairingCode" validate:"required,pairing_code"`
}

type heartbeatRequest struct {
	DeviceID string `json:"deviceId" validate:"required,sscm_main"`
}

type pairRequest struct {
	PairingCode string `json:"pairingCode" validate:"required,pairing_code"`
}

// handleRegister records a main board and its proposed pairing code.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := deviceid.MustParse(req.DeviceID)

	d, err := s.pairing.Register(r.Context(), id, req.PairingCode)
	if err != nil {
		s.handleServiceError(w, r, "registering device", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"paired":   d.Paired,
		"deviceId": d.DeviceID,
	})
}

// handleDeviceStatus returns the pairing state of a device.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}
	d, err := s.pairing.Status(r.Context(), id)
	if err != nil {
		s.handleServiceError(w, r, "reading device status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"paired":      d.Paired,
		"deviceId":    d.DeviceID,
		"pairingCode": d.PairingCode,
		"pairedAt":    d.PairedAt,
	})
}

// handleHeartbeat refreshes lastSeen of a paired device.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := deviceid.MustParse(req.DeviceID)

	if _, err := s.pairing.Heartbeat(r.Context(), id); err != nil {
		s.handleServiceError(w, r, "updating device status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Device status updated",
		"deviceId": id,
	})
}

// handlePair binds a device to the calling admin.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}
	var req pairRequest
	if !decodeBody(w, r, &req) {
		return
	}

	d, err := s.pairing.Pair(r.Context(), id, req.PairingCode, adminID(r))
	if err != nil {
		s.handleServiceError(w, r, "pairing device", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Device paired successfully",
		"deviceId": d.DeviceID,
		"pairedAt": d.PairedAt,
	})
}

// handleUnpair clears a device's pairing.
func (s *Server) handleUnpair(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}
	d, err := s.pairing.Unpair(r.Context(), id, adminID(r))
	if err != nil {
		s.handleServiceError(w, r, "unpairing device", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Device unpaired successfully",
		"deviceId": d.DeviceID,
	})
}

// handleListDevices lists the devices paired by the calling admin.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.pairing.ListPairedBy(r.Context(), adminID(r))
	if err != nil {
		s.handleServiceError(w, r, "listing devices", err)
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleDeviceAudit returns the pairing audit trail of a device.
func (s *Server) handleDeviceAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}
	query, ok := auditQuery(w, r)
	if !ok {
		return
	}
	result, err := s.pairing.AuditTrail(r.Context(), id, query)
	if err != nil {
		s.handleServiceError(w, r, "listing audit trail", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRestart asks a device's subscribers to restart it.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}
	delivered := s.relay.SendCommand(id, protocol.KindRestart)
	s.logger.Info("restart requested", "device_id", id.String(), "admin", adminID(r), "delivered", delivered)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":   delivered > 0,
		"deviceId":  id,
		"delivered": delivered,
	})
}

// handleServiceError writes the response for a pairing service error.
func (s *Server) handleServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if writePairingError(w, err) {
		return
	}
	s.logger.Error(op+" failed", "error", err, "request_id", r.Context().Value(ctxKeyRequestID))
	writeInternalError(w, op+" failed")
}

func deviceIDParam(w http.ResponseWriter, r *http.Request) (deviceid.ID, bool) {
	id, err := deviceid.Parse(chi.URLParam(r, "deviceId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "invalid device ID format")
		return deviceid.ID{}, false
	}
	return id, true
}

// adminID is the token subject of an authenticated request.
func adminID(r *http.Request) string {
	if claims := claimsFromContext(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}

// auditQuery reads limit, offset and since from the query string.
func auditQuery(w http.ResponseWriter, r *http.Request) (audit.Filter, bool) {
	f := audit.Filter{Limit: audit.DefaultLimit}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return f, false
		}
		f.Limit = min(n, audit.MaxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return f, false
		}
		f.Offset = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return f, false
		}
		f.Since = t
	}
	return f, true
}

// healthStatus is the body of GET /api/health.
type healthStatus struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// handleHealth reports liveness plus the result of each registered check.
// Any failing check turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthStatus{
		Status:    "ok",
		Version:   s.version,
		Timestamp: time.Now().UTC(),
	}
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check.HealthCheck(r.Context()); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
