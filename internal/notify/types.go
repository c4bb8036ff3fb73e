package notify

import "fmt"

// Kind distinguishes the three shapes a change can take.
type Kind int

const (
	// Inserted means the object did not exist before the commit.
	Inserted Kind = iota + 1
	// Updated means one or more fields of an existing object changed.
	Updated
	// Deleted means the object no longer exists. Event.Object holds its
	// last known state.
	Deleted
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// MarshalText lets Kind appear by name in JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	for _, c := range []Kind{Inserted, Updated, Deleted} {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("notify: unknown change kind %q", text)
}

// Change describes what happened to an object in one commit.
type Change struct {
	Kind Kind `json:"kind"`

	// ChangedFields lists the fields that changed for Updated changes.
	// It is empty for Inserted and Deleted.
	ChangedFields []string `json:"changed_fields,omitempty"`
}

// IsDeletion reports whether the change removed the object.
func (c Change) IsDeletion() bool {
	return c.Kind == Deleted
}

// Event is a single committed change to one object.
type Event struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Object any    `json:"object"`
	Change Change `json:"change"`
}

// Callback receives events. Callbacks run on the goroutine draining the
// queue and must not block indefinitely.
type Callback func(Event)

// Token identifies one listener registration.
// The zero Token is never issued.
type Token uint64
