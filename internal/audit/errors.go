package audit

import "errors"

// ErrInvalidEntry is returned by Record for entries without an action or
// source.
var ErrInvalidEntry = errors.New("audit: invalid entry")
