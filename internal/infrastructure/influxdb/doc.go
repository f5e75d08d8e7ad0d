// Package influxdb provides optional time-series telemetry for sirenwatch.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Purpose
//
// Recorded series:
//   - siren_state: online and siren/relay transitions per device
//   - siren_commands: dispatched commands and their outcomes
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off, pass a nil writer to the reconciler
//	}
//	defer client.Close()
//
//	client.WriteDeviceMetric("SRN-017", "online", 1)
//
// # Error Handling
//
// Write operations are non-blocking; batch errors surface through the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
