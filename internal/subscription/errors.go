package subscription

import "errors"

// Domain errors for the subscription package.
var (
	// ErrSuperseded is returned by Pending.Wait when a newer update replaced
	// the set before this one completed.
	ErrSuperseded = errors.New("subscription: superseded by a newer update")

	// ErrInvalidSubscription is returned when a subscription is malformed.
	ErrInvalidSubscription = errors.New("subscription: invalid")

	// ErrDuplicateLabel is returned when one update names a label twice.
	ErrDuplicateLabel = errors.New("subscription: duplicate label")
)
