// Package logging provides structured logging for the SSCM relay and kiosk.
//
// It wraps log/slog with JSON or text output, level filtering and two
// default fields (service, version) on every entry.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "sscm-relay", version)
//	logger.Info("relay listening", "port", 8080)
//
// Never log admin tokens or pairing codes of paired devices.
package logging
