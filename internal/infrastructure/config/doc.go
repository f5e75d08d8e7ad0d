// Package config loads and validates sirenwatch configuration.
//
// Configuration is read from a YAML file with environment variable
// overrides (SIRENWATCH_* pattern). Defaults are applied first, then
// file values, then environment values.
//
// The devices section deserves care: auto_off_ms is both the TTL sent
// with every siren command and the length of the locally displayed
// countdown, so it must match the backend's enforcement window.
package config
