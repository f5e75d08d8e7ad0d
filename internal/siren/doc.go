// Package siren holds the reconciled device model and the state machine
// that maintains it.
//
// The Store is the single source of truth for per-device state. The
// Reconciler is the only writer for realtime-driven changes: it seeds
// the store from the REST snapshot, then folds the event stream
// (state pushes, heartbeats, last-will notices, acknowledgements),
// heartbeat-watchdog expiries and countdown ticks into record mutations.
// The Dispatcher issues ON/OFF commands and owns the per-device
// acknowledgement watchdogs.
//
// # State machine
//
// Per device: unknown → offline → online/off → online/on, plus a
// pending overlay while a command awaits its acknowledgement. Key
// invariants:
//
//   - one record per deviceId; events for unknown devices match nothing
//   - a countdown exists only while the siren is ON with an active timer
//   - going offline, by last-will or watchdog expiry, clears pending and
//     countdown regardless of prior state
//
// # Countdown and persisted timers
//
// The countdown is a display mirror of the backend's server-enforced
// auto-off; reaching zero sends nothing. Each device's absolute expiry
// is also persisted so a restarted process recomputes the remaining
// window. While a persisted timer yields a positive remainder it takes
// precedence over the realtime-derived countdown.
package siren
