package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceMetric writes a single device measurement.
//
// This is the primary method for recording siren telemetry: online
// transitions, siren/relay switches. The write is non-blocking; data is
// batched and sent asynchronously.
//
// Example:
//
//	client.WriteDeviceMetric("SRN-017", "online", 1)
//	client.WriteDeviceMetric("SRN-017", "siren", 0)
func (c *Client) WriteDeviceMetric(deviceID string, field string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"siren_state",
		map[string]string{
			"device_id": deviceID,
			"field":     field,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandEvent records a dispatched command and its outcome.
//
// outcome is one of "sent", "acked", "error" or "timeout". Useful for
// tracking command reliability per device over time.
func (c *Client) WriteCommandEvent(deviceID, action, cause, outcome string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"siren_commands",
		map[string]string{
			"device_id": deviceID,
			"action":    action,
			"cause":     cause,
		},
		map[string]interface{}{
			"outcome": outcome,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
