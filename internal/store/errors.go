package store

import "errors"

// Domain errors for the store package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, store.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrValidation is returned when a create or update payload is malformed.
	ErrValidation = errors.New("store: validation failed")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAsymmetric is returned when reading a type that only uploads.
	ErrAsymmetric = errors.New("store: type is upload-only")

	// ErrUnknownType is returned for record types the store does not hold.
	ErrUnknownType = errors.New("store: unknown record type")

	// ErrTxnClosed is returned when a Txn is used after its Write returned.
	ErrTxnClosed = errors.New("store: transaction closed")
)
