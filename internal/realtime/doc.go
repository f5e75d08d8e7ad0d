// Package realtime maintains the single live connection to the siren
// backend's event channel.
//
// Two transports implement the same Source contract:
//
//   - websocket: connects to the backend's /ws endpoint, derived from the
//     REST base URL, authenticating with the bearer token at handshake.
//   - mqtt: subscribes directly to the device broker, for deployments
//     where sirenwatch runs alongside it. Broker last-will messages
//     provide the forced-offline notices.
//
// Both reconnect forever at a fixed delay and surface failures only
// through the absence of events; the reconciliation layer's heartbeat
// watchdogs are the failure detector.
//
// The four consumed event types are device.state, device.lwt,
// device.heartbeat and device.ack. Handlers receive the raw JSON payload
// and run on the receive goroutine.
package realtime
