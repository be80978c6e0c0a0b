package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/pairing"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writePairingError maps pairing and directory errors to responses.
// Unknown errors are logged by the caller and answered with 500.
func writePairingError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, pairing.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, pairing.ErrAlreadyPaired):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device is already paired")
	case errors.Is(err, pairing.ErrCodeMismatch):
		writeUnauthorized(w, "invalid pairing code")
	case errors.Is(err, pairing.ErrNotPaired):
		writeBadRequest(w, "device is not paired")
	case errors.Is(err, pairing.ErrInvalidCode),
		errors.Is(err, pairing.ErrNotMainBoard),
		errors.Is(err, deviceid.ErrInvalid):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		return false
	}
	return true
}
