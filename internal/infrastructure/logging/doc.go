// Package logging provides structured logging for sirenwatch.
//
// It wraps log/slog with level parsing, format selection (JSON or text)
// and default service/version fields on every entry.
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting", "port", 8090)
//
// Never log bearer tokens or broker credentials.
package logging
