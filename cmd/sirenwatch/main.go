// sirenwatch - realtime siren fleet reconciliation daemon
//
// sirenwatch maintains a live, reconciled view of a community siren
// fleet: it seeds device state from the backend REST API, merges the
// realtime event stream (WebSocket or direct MQTT), dispatches ON/OFF
// commands with acknowledgement tracking, and keeps auto-off countdowns
// correct across restarts via a persisted timer registry. Dashboards
// consume the view over its own REST API and WebSocket hub.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/davteix/sirenwatch/internal/api"
	"github.com/davteix/sirenwatch/internal/backend"
	"github.com/davteix/sirenwatch/internal/infrastructure/config"
	"github.com/davteix/sirenwatch/internal/infrastructure/database"
	"github.com/davteix/sirenwatch/internal/infrastructure/influxdb"
	"github.com/davteix/sirenwatch/internal/infrastructure/logging"
	"github.com/davteix/sirenwatch/internal/realtime"
	"github.com/davteix/sirenwatch/internal/siren"
	"github.com/davteix/sirenwatch/internal/timers"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting sirenwatch",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database for the persisted timer registry
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	// Expired timers from previous runs are swept here, before any
	// device can be observed ON.
	timerRegistry, err := timers.Open(ctx, db)
	if err != nil {
		return fmt.Errorf("opening timer registry: %w", err)
	}
	log.Info("timer registry ready")

	// Connect to InfluxDB (optional)
	var metrics siren.MetricWriter
	var cmdMetrics siren.CommandMetricWriter
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case err == nil:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		metrics = influxClient
		cmdMetrics = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	default:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	// Backend REST client: snapshot, enrichment, command dispatch
	backendClient := backend.NewClient(cfg.Backend, log)
	log.Info("backend client ready", "base_url", cfg.Backend.BaseURL)

	// Realtime event source, shared across the process
	source, err := realtime.Shared(cfg.Realtime, cfg.Backend, log)
	if err != nil {
		return fmt.Errorf("starting realtime source: %w", err)
	}
	defer realtime.ResetShared()
	log.Info("realtime source started", "mode", cfg.Realtime.Mode)

	// Reconciled device view and command dispatch
	store := siren.NewStore()
	dispatcher := siren.NewDispatcher(store, backendClient, cmdMetrics, cfg.AckTimeout(), cfg.AutoOffDuration(), log)
	defer dispatcher.Stop()

	reconciler := siren.NewReconciler(store, timerRegistry, backendClient, source, metrics, siren.ReconcilerOptions{
		HeartbeatTimeout: cfg.HeartbeatTimeout(),
		AutoOff:          cfg.AutoOffDuration(),
	}, log)
	reconciler.SetResolver(dispatcher)

	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("starting reconciler: %w", err)
	}
	defer func() {
		log.Info("stopping reconciler")
		reconciler.Stop()
	}()
	log.Info("reconciler started",
		"devices", store.Count(),
		"heartbeat_timeout", cfg.HeartbeatTimeout(),
		"auto_off", cfg.AutoOffDuration(),
	)

	// Dashboard-facing API server
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		Logger:     log,
		Store:      store,
		Dispatcher: dispatcher,
		Version:    version,
	})
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

	if err := healthCheck(ctx, db, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Reconciler, dispatcher, realtime source
	// 3. InfluxDB (if enabled)
	// 4. Database

	log.Info("sirenwatch stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SIRENWATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SIRENWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
