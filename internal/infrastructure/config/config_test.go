package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum requirement.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
backend:
  base_url: "https://sirenas.example.com/api"
realtime:
  mode: "websocket"
devices:
  auto_off_ms: 120000
  heartbeat_timeout_seconds: 30
database:
  path: "/tmp/test.db"
api:
  port: 8090
  jwt_secret: "` + validJWTSecret + `"
`
	cfg, err := Load(writeTestConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.BaseURL != "https://sirenas.example.com/api" {
		t.Errorf("Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, "https://sirenas.example.com/api")
	}
	if cfg.Devices.AutoOffMs != 120000 {
		t.Errorf("Devices.AutoOffMs = %d, want 120000", cfg.Devices.AutoOffMs)
	}
	if cfg.Devices.HeartbeatTimeoutSeconds != 30 {
		t.Errorf("Devices.HeartbeatTimeoutSeconds = %d, want 30", cfg.Devices.HeartbeatTimeoutSeconds)
	}

	// Defaults should fill the sections the file omits.
	if cfg.Devices.AckTimeoutSeconds != 5 {
		t.Errorf("Devices.AckTimeoutSeconds = %d, want default 5", cfg.Devices.AckTimeoutSeconds)
	}
	if cfg.Realtime.MQTT.TopicPrefix != "sirens" {
		t.Errorf("Realtime.MQTT.TopicPrefix = %q, want default %q", cfg.Realtime.MQTT.TopicPrefix, "sirens")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeTestConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
backend:
  base_url: "http://file-value/api"
api:
  jwt_secret: "` + validJWTSecret + `"
`
	t.Setenv("SIRENWATCH_BACKEND_URL", "http://env-value/api")
	t.Setenv("SIRENWATCH_BACKEND_TOKEN", "env-token")
	t.Setenv("SIRENWATCH_AUTO_OFF_MS", "60000")

	cfg, err := Load(writeTestConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.BaseURL != "http://env-value/api" {
		t.Errorf("Backend.BaseURL = %q, want env override", cfg.Backend.BaseURL)
	}
	if cfg.Backend.AccessToken != "env-token" {
		t.Errorf("Backend.AccessToken = %q, want env override", cfg.Backend.AccessToken)
	}
	if cfg.Devices.AutoOffMs != 60000 {
		t.Errorf("Devices.AutoOffMs = %d, want 60000", cfg.Devices.AutoOffMs)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.API.JWTSecret = validJWTSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "empty backend URL",
			mutate:  func(c *Config) { c.Backend.BaseURL = "" },
			wantErr: true,
		},
		{
			name:    "unknown realtime mode",
			mutate:  func(c *Config) { c.Realtime.Mode = "carrier-pigeon" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.Realtime.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "zero auto-off window",
			mutate:  func(c *Config) { c.Devices.AutoOffMs = 0 },
			wantErr: true,
		},
		{
			name:    "negative heartbeat timeout",
			mutate:  func(c *Config) { c.Devices.HeartbeatTimeoutSeconds = -1 },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "missing JWT secret",
			mutate:  func(c *Config) { c.API.JWTSecret = "" },
			wantErr: true,
		},
		{
			name:    "short JWT secret",
			mutate:  func(c *Config) { c.API.JWTSecret = "too-short" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.AutoOffDuration(); got != 5*time.Minute {
		t.Errorf("AutoOffDuration() = %v, want 5m", got)
	}
	if got := cfg.HeartbeatTimeout(); got != 45*time.Second {
		t.Errorf("HeartbeatTimeout() = %v, want 45s", got)
	}
	if got := cfg.AckTimeout(); got != 5*time.Second {
		t.Errorf("AckTimeout() = %v, want 5s", got)
	}
}
