package session

import "errors"

var (
	// ErrSessionNotFound is returned when no session with the given ID is
	// registered.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrSessionNotActive is returned when an operation requires an active
	// session but the session has already ended.
	ErrSessionNotActive = errors.New("session: not active")

	// ErrInvalidFragment is returned when a transcript fragment is empty or
	// exceeds the configured size limit.
	ErrInvalidFragment = errors.New("session: invalid fragment")

	// ErrPersistence wraps storage failures that survived the bounded retry.
	// When End returns it the session is still marked ended in memory and the
	// report is valid.
	ErrPersistence = errors.New("session: persistence failed")
)
