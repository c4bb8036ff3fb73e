package session

import "errors"

// Domain-specific errors for the session package.
var (
	// ErrAuth is returned by Initialize when login fails. It is terminal.
	ErrAuth = errors.New("session: authentication failed")

	// ErrSessionNotReady is returned by every method of a nil or closed Session.
	ErrSessionNotReady = errors.New("session: not ready")

	// ErrInvalidDeps is returned by Initialize when a required dependency is missing.
	ErrInvalidDeps = errors.New("session: invalid dependencies")
)
