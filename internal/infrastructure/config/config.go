package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for sirenwatch.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Devices  DevicesConfig  `yaml:"devices"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BackendConfig contains settings for the upstream siren backend API.
type BackendConfig struct {
	// BaseURL is the REST API base, e.g. "https://sirenas.example.com/api".
	BaseURL string `yaml:"base_url"`

	// AccessToken is the bearer credential presented on REST calls and at
	// realtime handshake time. Usually injected via SIRENWATCH_BACKEND_TOKEN.
	AccessToken string `yaml:"access_token"`

	// TimeoutSeconds bounds each REST request.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// RetryCount is the number of retries for idempotent GETs.
	RetryCount int `yaml:"retry_count"`
}

// RealtimeConfig selects and configures the realtime event transport.
type RealtimeConfig struct {
	// Mode selects the transport: "websocket" (backend /ws endpoint) or
	// "mqtt" (direct broker subscription).
	Mode string `yaml:"mode"`

	// ReconnectDelaySeconds is the fixed delay between reconnect attempts.
	ReconnectDelaySeconds int `yaml:"reconnect_delay_seconds"`

	// ConnectTimeoutSeconds bounds the initial connection attempt.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains broker connection settings for direct-broker mode.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`

	// TopicPrefix is the root of the siren topic tree, default "sirens".
	TopicPrefix string `yaml:"topic_prefix"`
}

// DevicesConfig contains reconciliation and command timing settings.
type DevicesConfig struct {
	// AutoOffMs is the auto-off window in milliseconds. It is sent as the
	// command TTL and drives the local countdown, so it must match the
	// backend's own enforcement to avoid display drift. Default 300000.
	AutoOffMs int `yaml:"auto_off_ms"`

	// HeartbeatTimeoutSeconds is the liveness watchdog window. A device with
	// no heartbeat or state push within this window is marked offline.
	HeartbeatTimeoutSeconds int `yaml:"heartbeat_timeout_seconds"`

	// AckTimeoutSeconds is how long a dispatched command waits for its
	// acknowledgement before pending is cleared.
	AckTimeoutSeconds int `yaml:"ack_timeout_seconds"`
}

// DatabaseConfig contains SQLite settings for the persisted timer registry.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains the dashboard-facing HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// JWTSecret validates bearer tokens on protected routes. Token issuance
	// belongs to the external identity provider.
	JWTSecret string `yaml:"jwt_secret"`

	WebSocket WebSocketConfig `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings for the dashboard WebSocket hub.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains optional telemetry settings.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The loading order is:
//  1. Default values
//  2. YAML file values
//  3. Environment variables (SIRENWATCH_SECTION_KEY, e.g. SIRENWATCH_BACKEND_TOKEN)
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:        "http://localhost:3000/api",
			TimeoutSeconds: 15,
			RetryCount:     2,
		},
		Realtime: RealtimeConfig{
			Mode:                  "websocket",
			ReconnectDelaySeconds: 3,
			ConnectTimeoutSeconds: 10,
			MQTT: MQTTConfig{
				Host:        "localhost",
				Port:        1883,
				ClientID:    "sirenwatch",
				QoS:         1,
				TopicPrefix: "sirens",
			},
		},
		Devices: DevicesConfig{
			AutoOffMs:               300000,
			HeartbeatTimeoutSeconds: 45,
			AckTimeoutSeconds:       5,
		},
		Database: DatabaseConfig{
			Path:        "./data/sirenwatch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIRENWATCH_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("SIRENWATCH_BACKEND_TOKEN"); v != "" {
		cfg.Backend.AccessToken = v
	}

	if v := os.Getenv("SIRENWATCH_REALTIME_MODE"); v != "" {
		cfg.Realtime.Mode = v
	}
	if v := os.Getenv("SIRENWATCH_MQTT_HOST"); v != "" {
		cfg.Realtime.MQTT.Host = v
	}
	if v := os.Getenv("SIRENWATCH_MQTT_USERNAME"); v != "" {
		cfg.Realtime.MQTT.Username = v
	}
	if v := os.Getenv("SIRENWATCH_MQTT_PASSWORD"); v != "" {
		cfg.Realtime.MQTT.Password = v
	}

	if v := os.Getenv("SIRENWATCH_AUTO_OFF_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Devices.AutoOffMs = ms
		}
	}

	if v := os.Getenv("SIRENWATCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("SIRENWATCH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SIRENWATCH_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}

	if v := os.Getenv("SIRENWATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}

	switch c.Realtime.Mode {
	case "websocket", "mqtt":
	default:
		errs = append(errs, "realtime.mode must be \"websocket\" or \"mqtt\"")
	}
	if c.Realtime.MQTT.QoS < 0 || c.Realtime.MQTT.QoS > 2 {
		errs = append(errs, "realtime.mqtt.qos must be 0, 1, or 2")
	}

	if c.Devices.AutoOffMs <= 0 {
		errs = append(errs, "devices.auto_off_ms must be positive")
	}
	if c.Devices.HeartbeatTimeoutSeconds <= 0 {
		errs = append(errs, "devices.heartbeat_timeout_seconds must be positive")
	}
	if c.Devices.AckTimeoutSeconds <= 0 {
		errs = append(errs, "devices.ack_timeout_seconds must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.API.JWTSecret == "" {
		errs = append(errs, "api.jwt_secret is required (set SIRENWATCH_JWT_SECRET environment variable)")
	} else if len(c.API.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "api.jwt_secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// AutoOffDuration returns the configured auto-off window as a Duration.
func (c *Config) AutoOffDuration() time.Duration {
	return time.Duration(c.Devices.AutoOffMs) * time.Millisecond
}

// HeartbeatTimeout returns the liveness watchdog window as a Duration.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Devices.HeartbeatTimeoutSeconds) * time.Second
}

// AckTimeout returns the acknowledgement watchdog window as a Duration.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Devices.AckTimeoutSeconds) * time.Second
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
