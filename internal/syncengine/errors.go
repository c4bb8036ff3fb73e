package syncengine

import "errors"

// Domain-specific errors for sync operations.
var (
	// ErrTransport wraps failures of the MQTT transport or the reading sink.
	ErrTransport = errors.New("syncengine: transport error")

	// ErrAlreadyStarted is returned by Start on a running engine.
	ErrAlreadyStarted = errors.New("syncengine: already started")

	// ErrInvalidEnvelope is returned for inbound messages that cannot be decoded.
	ErrInvalidEnvelope = errors.New("syncengine: invalid envelope")
)
