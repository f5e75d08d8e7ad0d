// Package backend is the REST client for the siren backend API.
//
// It serves two roles: the startup snapshot (device list plus
// best-effort last-known states) and outbound command dispatch. All
// realtime traffic flows through internal/realtime instead; the HTTP
// response to a command says nothing about the device, only that the
// backend accepted the request.
//
// Snapshot reads retry with a short backoff. Command posts never retry:
// a duplicate command is worse than a failed one.
package backend
