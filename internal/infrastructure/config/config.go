package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the SSCM relay and kiosk.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Relay     RelayConfig     `yaml:"relay"`
	Kiosk     KioskConfig     `yaml:"kiosk"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// When enabled, relayed envelopes are mirrored to sscm/events/... and
// commands published on sscm/command/... are injected into the router.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains relay endpoint settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// InfluxDBConfig contains InfluxDB connection settings for device telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig contains admin token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// RateLimitConfig contains rate limiting settings for the device REST routes.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// RelayConfig tunes the message router.
type RelayConfig struct {
	// BreakerFailures is the number of consecutive directory write failures
	// that opens the write-through circuit breaker.
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerTimeout is how long the breaker stays open (seconds).
	BreakerTimeout int `yaml:"breaker_timeout"`
}

// KioskConfig configures the kiosk-side connection manager and
// classification workflow.
type KioskConfig struct {
	RelayURL string `yaml:"relay_url"`
	APIURL   string `yaml:"api_url"`
	DeviceID string `yaml:"device_id"`
	Token    string `yaml:"token"`

	// ReconnectBaseDelay is the first reconnect delay in milliseconds.
	// Each further attempt doubles it.
	ReconnectBaseDelay   int `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// ClassificationTimeout is in milliseconds.
	ClassificationTimeout int `yaml:"classification_timeout"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SSCM_SECTION_KEY
// For example: SSCM_DATABASE_PATH, SSCM_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadKiosk reads the same file as Load but only validates the kiosk
// section, so the client tooling runs without server secrets.
// An empty path yields defaults plus environment overrides.
func LoadKiosk(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Kiosk.Validate(); err != nil {
		return nil, fmt.Errorf("validating kiosk config: %w", err)
	}

	return cfg, nil
}

func read(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/sscm.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sscm-relay",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     256,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     500,
			FlushInterval: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 720,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 100,
			},
		},
		Relay: RelayConfig{
			BreakerFailures: 5,
			BreakerTimeout:  30,
		},
		Kiosk: KioskConfig{
			RelayURL:              "ws://localhost:8080/api/ws",
			APIURL:                "http://localhost:8080",
			ReconnectBaseDelay:    3000,
			MaxReconnectAttempts:  5,
			ClassificationTimeout: 15000,
		},
	}
}

// applyEnvOverrides applies SSCM_SECTION_KEY environment variables.
// Unparseable numbers and booleans are ignored and the earlier value kept.
func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"SSCM_DATABASE_PATH":   &cfg.Database.Path,
		"SSCM_MQTT_HOST":       &cfg.MQTT.Broker.Host,
		"SSCM_MQTT_USERNAME":   &cfg.MQTT.Auth.Username,
		"SSCM_MQTT_PASSWORD":   &cfg.MQTT.Auth.Password,
		"SSCM_API_HOST":        &cfg.API.Host,
		"SSCM_INFLUXDB_URL":    &cfg.InfluxDB.URL,
		"SSCM_INFLUXDB_TOKEN":  &cfg.InfluxDB.Token,
		"SSCM_LOG_LEVEL":       &cfg.Logging.Level,
		"SSCM_JWT_SECRET":      &cfg.Security.JWT.Secret,
		"SSCM_KIOSK_RELAY_URL": &cfg.Kiosk.RelayURL,
		"SSCM_KIOSK_API_URL":   &cfg.Kiosk.APIURL,
		"SSCM_KIOSK_DEVICE_ID": &cfg.Kiosk.DeviceID,
		"SSCM_KIOSK_TOKEN":     &cfg.Kiosk.Token,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SSCM_API_PORT":  &cfg.API.Port,
		"SSCM_MQTT_PORT": &cfg.MQTT.Broker.Port,
	}
	for key, dst := range ints {
		if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
			*dst = n
		}
	}

	bools := map[string]*bool{
		"SSCM_MQTT_ENABLED":     &cfg.MQTT.Enabled,
		"SSCM_INFLUXDB_ENABLED": &cfg.InfluxDB.Enabled,
	}
	for key, dst := range bools {
		if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
			*dst = b
		}
	}
}

// Validate checks the server configuration for errors and security issues.
// All problems are reported together.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1, or 2"))
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, errors.New("api.port must be between 1 and 65535"))
	}

	if c.WebSocket.SendBuffer < 1 {
		errs = append(errs, errors.New("websocket.send_buffer must be positive"))
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, errors.New("influxdb.url and influxdb.bucket are required when influxdb is enabled"))
	}

	// Admin tokens gate pairing, so a weak secret lets anyone pair a kiosk.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, errors.New("security.jwt.secret is required (set SSCM_JWT_SECRET environment variable)"))
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, errors.New("security.jwt.secret must be at least 32 characters"))
	}

	if c.Relay.BreakerFailures < 1 {
		errs = append(errs, errors.New("relay.breaker_failures must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}

	return nil
}

// Validate checks the kiosk section.
func (k KioskConfig) Validate() error {
	var errs []error

	if k.RelayURL == "" {
		errs = append(errs, errors.New("kiosk.relay_url is required"))
	}
	if k.ReconnectBaseDelay <= 0 {
		errs = append(errs, errors.New("kiosk.reconnect_base_delay must be positive"))
	}
	if k.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("kiosk.max_reconnect_attempts must not be negative"))
	}
	if k.ClassificationTimeout <= 0 {
		errs = append(errs, errors.New("kiosk.classification_timeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}
	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetAccessTokenTTL returns the admin token lifetime.
func (c *Config) GetAccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// GetBreakerTimeout returns how long the write-through breaker stays open.
func (r RelayConfig) GetBreakerTimeout() time.Duration {
	return time.Duration(r.BreakerTimeout) * time.Second
}

// GetReconnectBaseDelay returns the first reconnect delay.
func (k KioskConfig) GetReconnectBaseDelay() time.Duration {
	return time.Duration(k.ReconnectBaseDelay) * time.Millisecond
}

// GetClassificationTimeout returns the classification deadline.
func (k KioskConfig) GetClassificationTimeout() time.Duration {
	return time.Duration(k.ClassificationTimeout) * time.Millisecond
}
