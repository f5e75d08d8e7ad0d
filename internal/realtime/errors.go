package realtime

import "errors"

// Sentinel errors for realtime sources. Check with errors.Is().
var (
	// ErrClosed is returned when operating on a closed source.
	ErrClosed = errors.New("realtime: source closed")

	// ErrConnectionFailed is returned when the initial connection attempt
	// fails within its timeout.
	ErrConnectionFailed = errors.New("realtime: connection failed")

	// ErrInvalidEvent is returned when subscribing to an unknown event type.
	ErrInvalidEvent = errors.New("realtime: invalid event type")

	// ErrSubscribeFailed is returned when a subscription cannot be registered.
	ErrSubscribeFailed = errors.New("realtime: subscribe failed")

	// ErrUnknownMode is returned when the configured transport mode is not
	// recognised.
	ErrUnknownMode = errors.New("realtime: unknown transport mode")
)
