package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/davteix/sirenwatch/internal/infrastructure/config"
	"github.com/davteix/sirenwatch/internal/infrastructure/logging"
)

// The shared source is a process-wide singleton: however many views or
// subsystems consume events, exactly one live connection exists. Only
// this accessor creates or destroys it.
var (
	sharedMu sync.Mutex
	shared   Source
)

// Shared returns the process-wide source, lazily establishing it on
// first call and reusing it afterwards. A second connection is never
// constructed while one is alive.
func Shared(cfg config.RealtimeConfig, backend config.BackendConfig, log *logging.Logger) (Source, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil {
		return shared, nil
	}

	src, err := New(cfg, backend, log)
	if err != nil {
		return nil, err
	}
	shared = src
	return shared, nil
}

// ResetShared tears down the shared source so a subsequent Shared call
// creates a fresh one. Used on logout.
func ResetShared() {
	sharedMu.Lock()
	src := shared
	shared = nil
	sharedMu.Unlock()

	if src != nil {
		src.Close() //nolint:errcheck // Best effort on teardown
	}
}

// New constructs a source for the configured transport mode. Most callers
// want Shared instead.
func New(cfg config.RealtimeConfig, backend config.BackendConfig, log *logging.Logger) (Source, error) {
	reconnectDelay := time.Duration(cfg.ReconnectDelaySeconds) * time.Second
	connectTimeout := time.Duration(cfg.ConnectTimeoutSeconds) * time.Second

	switch cfg.Mode {
	case "websocket":
		return NewWebSocket(backend.BaseURL, backend.AccessToken, reconnectDelay, connectTimeout, log)
	case "mqtt":
		return NewMQTT(cfg.MQTT, reconnectDelay, connectTimeout, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
}
