package backend

import "errors"

// Sentinel errors for backend API failures.
var (
	// ErrUnauthorized indicates the bearer token was rejected.
	ErrUnauthorized = errors.New("backend: unauthorized")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("backend: not found")

	// ErrBadStatus indicates an unexpected HTTP status from the backend.
	ErrBadStatus = errors.New("backend: unexpected status")
)
