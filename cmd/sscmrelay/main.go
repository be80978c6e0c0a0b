// SSCM Relay - message relay and pairing service for Smart Shoe Care
// Machines.
//
// The relay links kiosk terminals, main-board controllers and their camera
// modules over WebSocket, keeps the device directory in SQLite and serves
// the pairing REST API.
//
// Usage:
//
//	sscmrelay [serve] [-config path]
//	sscmrelay token -admin <id> [-role admin|kiosk] [-config path]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/sscm-labs/sscm-relay/migrations"

	"github.com/sscm-labs/sscm-relay/internal/api"
	"github.com/sscm-labs/sscm-relay/internal/audit"
	"github.com/sscm-labs/sscm-relay/internal/auth"
	"github.com/sscm-labs/sscm-relay/internal/device"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/config"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/database"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/influxdb"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/logging"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/mqtt"
	"github.com/sscm-labs/sscm-relay/internal/pairing"
	"github.com/sscm-labs/sscm-relay/internal/relay"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	serviceName       = "sscm-relay"
	defaultConfigPath = "configs/config.yaml"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := dispatch(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// dispatch selects the subcommand. No subcommand means serve.
func dispatch(ctx context.Context, args []string, out io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		fs := flag.NewFlagSet("serve", flag.ContinueOnError)
		configPath := fs.String("config", getConfigPath(), "path to config.yaml")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return run(ctx, *configPath)
	case "token":
		return runToken(args, out)
	case "version":
		fmt.Fprintf(out, "%s %s (%s, %s)\n", serviceName, version, commit, date)
		return nil
	default:
		return fmt.Errorf("unknown command %q (want serve, token or version)", cmd)
	}
}

// run starts the relay and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting SSCM relay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, serviceName, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	directory := device.NewDirectory(device.NewSQLiteRepository(db.DB))
	directory.SetLogger(log.With("component", "directory"))
	if refreshErr := directory.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device directory: %w", refreshErr)
	}
	log.Info("device directory initialised")

	checks := map[string]api.HealthChecker{"database": db}

	// Optional MQTT mirror and command ingress
	var mqttClient *mqtt.Client
	var mirror relay.EventMirror
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		mirror = relay.NewMQTTMirror(mqttClient, log.With("component", "mirror"))
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Optional InfluxDB telemetry sink
	var telemetry relay.TelemetrySink
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	registry := relay.NewRegistry()
	router, err := relay.NewRouter(relay.Deps{
		Registry:  registry,
		Directory: directory,
		Telemetry: telemetry,
		Mirror:    mirror,
		Logger:    log.With("component", "relay"),
		Breaker: relay.BreakerSettings{
			Failures: uint32(max(cfg.Relay.BreakerFailures, 0)), //nolint:gosec // bounded below by 0
			Timeout:  cfg.Relay.GetBreakerTimeout(),
		},
	})
	if err != nil {
		return fmt.Errorf("creating relay router: %w", err)
	}

	if mqttClient != nil {
		topic := mqtt.Topics{}.AllCommands()
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), relay.CommandHandler(ctx, router)); subErr != nil { //nolint:gosec // QoS validated 0-2
			return fmt.Errorf("subscribing to %s: %w", topic, subErr)
		}
		log.Info("MQTT command ingress subscribed", "topic", topic)
	}

	pairingSvc, err := pairing.NewService(pairing.Deps{
		Directory: directory,
		Notifier:  router,
		Audit:     audit.NewSQLiteRepository(db.DB),
		Logger:    log.With("component", "pairing"),
	})
	if err != nil {
		return fmt.Errorf("creating pairing service: %w", err)
	}

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Relay:    router,
		Registry: registry,
		Pairing:  pairingSvc,
		DB:       db.DB,
		Checks:   checks,
		Version:  version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server, InfluxDB,
	// MQTT, database.
	return nil
}

// runToken prints a signed token for an admin or kiosk.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", getConfigPath(), "path to config.yaml")
	subject := fs.String("admin", "", "token subject (admin or kiosk id)")
	role := fs.String("role", string(auth.RoleAdmin), "token role (admin or kiosk)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("-admin is required")
	}
	if !auth.IsValidRole(auth.Role(*role)) {
		return fmt.Errorf("unknown role %q", *role)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := auth.GenerateAccessToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, cfg.GetAccessTokenTTL())
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

// getConfigPath returns SSCM_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("SSCM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck runs every registered check once at startup.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
