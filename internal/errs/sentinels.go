// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., account already enrolled).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication of the caller.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidFormat indicates a malformed secret or request field.
	// It is an input error and never counts toward lockout.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrSessionNotFound indicates an unknown session or a session owned by another account.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionLocked indicates the session must be re-authorized before use.
	ErrSessionLocked = errors.New("session locked")

	// ErrUnavailable indicates the settings store could not be reached in time.
	ErrUnavailable = errors.New("service unavailable")
)
