package siren

import "time"

// SwitchState is the binary actuator state for relay and siren channels.
type SwitchState string

// SwitchState constants.
const (
	SwitchOn  SwitchState = "ON"
	SwitchOff SwitchState = "OFF"
)

// Valid reports whether s is a recognised switch state.
func (s SwitchState) Valid() bool {
	return s == SwitchOn || s == SwitchOff
}

// AckResult is the terminal outcome of a dispatched command.
type AckResult string

// AckResult constants.
const (
	AckOK    AckResult = "OK"
	AckError AckResult = "ERROR"
)

// Cause identifies what triggered a command.
type Cause string

// Cause constants.
const (
	CauseManual Cause = "manual"
	CauseGroup  Cause = "group"
	CauseAPI    Cause = "api"
)

// Record is the reconciled per-device view. One Record exists per
// physical siren; DeviceID is the merge key for every event type.
//
// Records are created in bulk when the snapshot resolves and are never
// destroyed for the lifetime of the store; fields are mutated in place
// by the Reconciler and the Dispatcher only.
type Record struct {
	// Identity and last known address.
	DeviceID string `json:"deviceId"`
	IP       string `json:"ip,omitempty"`

	// Online is derived from heartbeat/offline signals, never from the
	// snapshot, which has no live notion of reachability.
	Online bool `json:"online"`

	// Siren reflects the actuator's last acknowledged or observed state.
	// Relay is a secondary channel mirrored from the same events.
	Relay SwitchState `json:"relay"`
	Siren SwitchState `json:"siren"`

	// UpdatedAt is the last time authoritative state was received.
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`

	// Countdown is seconds remaining until auto-off, present only while
	// an ON state has an active timer.
	Countdown *int `json:"countdown,omitempty"`

	// Pending is true exactly while a command has been dispatched and no
	// terminal acknowledgement or timeout has resolved it.
	Pending bool `json:"pending"`

	// Static metadata, set once from the snapshot.
	Lat            *float64 `json:"lat,omitempty"`
	Lng            *float64 `json:"lng,omitempty"`
	UrbanizationID *string  `json:"urbanizationId,omitempty"`
	GroupID        *string  `json:"groupId,omitempty"`
}

// Clone returns an independent copy of the Record. Pointer fields are
// re-pointed at copied values so callers can safely mutate the result.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cpy := *r
	cpy.UpdatedAt = cloneTime(r.UpdatedAt)
	cpy.Countdown = cloneInt(r.Countdown)
	cpy.Lat = cloneFloat(r.Lat)
	cpy.Lng = cloneFloat(r.Lng)
	cpy.UrbanizationID = cloneString(r.UrbanizationID)
	cpy.GroupID = cloneString(r.GroupID)
	return &cpy
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Meta is one device metadata record from the snapshot endpoint.
type Meta struct {
	DeviceID       string   `json:"deviceId"`
	IP             string   `json:"ip,omitempty"`
	Lat            *float64 `json:"lat,omitempty"`
	Lng            *float64 `json:"lng,omitempty"`
	UrbanizationID *string  `json:"urbanizationId,omitempty"`
	GroupID        *string  `json:"groupId,omitempty"`
}

// LastState is one best-effort last-known-state record from the
// enrichment endpoint, and the shape of a realtime state push.
type LastState struct {
	DeviceID  string      `json:"deviceId"`
	Online    bool        `json:"online"`
	Relay     SwitchState `json:"relay"`
	Siren     SwitchState `json:"siren"`
	IP        string      `json:"ip,omitempty"`
	UpdatedAt *time.Time  `json:"updatedAt,omitempty"`

	// AutoOffAt, when present, is the backend's own auto-off deadline and
	// is preferred over a locally computed expiry when persisting timers.
	AutoOffAt *time.Time `json:"autoOffAt,omitempty"`
}

// Command is an outbound device command.
type Command struct {
	DeviceID string
	Action   SwitchState
	TTL      time.Duration
	Cause    Cause
	CmdID    string
}

// Ack is the terminal response to a previously dispatched command.
type Ack struct {
	DeviceID string      `json:"deviceId"`
	Action   SwitchState `json:"action"`
	Result   AckResult   `json:"result"`
	CmdID    string      `json:"cmdId,omitempty"`
}
