package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sscm-labs/sscm-relay/internal/infrastructure/config"
)

// Logger is the structured logger shared by the relay and kiosk binaries.
// Every entry carries the service name and build version.
//
// Thread Safety: safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger for cfg. Output "stderr" writes to standard
// error, "discard" drops everything and anything else means stdout.
func New(cfg config.LoggingConfig, service, version string) *Logger {
	var w io.Writer = os.Stdout
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		w = os.Stderr
	case "discard":
		w = io.Discard
	}
	return NewWithWriter(w, cfg, service, version)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, service, version string) *Logger {
	h := newHandler(w, cfg).WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(h)}
}

func newHandler(w io.Writer, cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// parseLevel accepts the slog level names plus "warning". Anything it
// cannot read falls back to info.
func parseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// With returns a Logger that adds args to every entry.
//
//	log := logger.With("component", "relay")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the logger used before configuration is loaded: JSON at
// info level on stdout.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "sscm", "dev")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
