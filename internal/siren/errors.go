package siren

import "errors"

// Domain errors for the siren package. Check with errors.Is().
var (
	// ErrInvalidAction is returned when a command action is not ON or OFF.
	ErrInvalidAction = errors.New("siren: invalid action")

	// ErrCommandFailed is returned when command issuance fails at the
	// transport level, before any acknowledgement could arrive.
	ErrCommandFailed = errors.New("siren: command failed")

	// ErrAlreadyStarted is returned when a reconciler is started twice.
	ErrAlreadyStarted = errors.New("siren: reconciler already started")
)
