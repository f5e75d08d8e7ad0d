// Package timers persists per-device auto-off expiry timestamps.
//
// The in-memory countdown shown for a siren is a display mirror of the
// backend's server-enforced auto-off. Persisting each device's absolute
// expiry lets a restarted process recompute the remaining window instead
// of losing it. Entries whose expiry has passed are dropped lazily: once
// at open and again whenever they are read.
package timers
