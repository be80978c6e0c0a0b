package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sscm-labs/sscm-relay/internal/infrastructure/config"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/logging"
	"github.com/sscm-labs/sscm-relay/internal/pairing"
	"github.com/sscm-labs/sscm-relay/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by components that report on /api/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionState reports whether an optional broker link is up.
type ConnectionState interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Relay    *relay.Router
	Registry *relay.Registry
	Pairing  *pairing.Service

	// Optional collaborators.
	DB     *sql.DB
	MQTT   ConnectionState
	Checks map[string]HealthChecker

	Version string
}

// Server is the HTTP API and relay endpoint of the SSCM relay.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	relay    *relay.Router
	registry *relay.Registry
	pairing  *pairing.Service
	db       *sql.DB
	mqtt     ConnectionState
	checks   map[string]HealthChecker
	version  string

	hub       *Hub
	handler   http.Handler
	startTime time.Time

	mu     sync.Mutex
	server *http.Server
	ctx    context.Context //nolint:containedctx // parent of every relay connection
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not listening until Start is called, but Handler is usable
// immediately.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Relay == nil || deps.Registry == nil {
		return nil, fmt.Errorf("relay router and registry are required")
	}
	if deps.Pairing == nil {
		return nil, fmt.Errorf("pairing service is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger.With("component", "api"),
		relay:     deps.Relay,
		registry:  deps.Registry,
		pairing:   deps.Pairing,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.hub = NewHub(s.logger)
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP connections in a background goroutine.
// Cancelling ctx closes every relay connection.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.handler,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	srv := s.server

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", srv.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", srv.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close closes every relay connection and gracefully shuts down the
// listener, waiting up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	s.cancel()
	s.hub.closeAll()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
