package realtime

import "encoding/json"

// Type names a realtime event category on the wire.
type Type string

// Event taxonomy consumed by the reconciliation layer.
const (
	// EventState is a full authoritative snapshot for one device.
	EventState Type = "device.state"

	// EventLWT is a last-will / forced-offline notice for one device.
	EventLWT Type = "device.lwt"

	// EventHeartbeat is a liveness ping; implies online but carries no
	// relay/siren change.
	EventHeartbeat Type = "device.heartbeat"

	// EventAck is the terminal response to a previously dispatched command.
	EventAck Type = "device.ack"
)

// AllTypes returns every event type a source can carry.
func AllTypes() []Type {
	return []Type{EventState, EventLWT, EventHeartbeat, EventAck}
}

// Handler is the callback signature for received events.
//
// Handlers run on the source's receive goroutine and should not block
// for extended periods. The payload is the raw JSON body of the event;
// a returned error is logged but does not affect delivery.
type Handler func(event Type, payload []byte) error

// Source is a live connection to the backend's realtime channel.
//
// Implementations guarantee automatic reconnection with a fixed retry
// delay and do not expose manual reconnect; a dead link is surfaced only
// through the absence of events, which the reconciler's heartbeat
// watchdogs detect.
type Source interface {
	// Subscribe registers a handler for one event type, replacing any
	// previous handler for that type.
	Subscribe(event Type, handler Handler) error

	// Unsubscribe removes the handler for one event type.
	Unsubscribe(event Type) error

	// Close tears the connection down. The source cannot be reused.
	Close() error
}

// envelope is the wire framing used by the websocket channel.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}
