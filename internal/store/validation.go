package store

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength    = 100
	maxScratchLength = 4096 // Encoded JSON bytes
)

// timeLayout is a fixed-width UTC layout so stored timestamps sort
// lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Accept RFC 3339 from remote payloads.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

// GenerateID creates a new UUIDv4 record identifier.
func GenerateID() string {
	return uuid.New().String()
}

// ValidateID checks that id is a UUID.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: id %q is not a UUID", ErrValidation, id)
	}
	return nil
}

// ValidateName checks a device or component name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrValidation, maxNameLength)
	}
	return nil
}

// ValidateOwner checks an owner identity.
func ValidateOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return fmt.Errorf("%w: owner_id is required", ErrValidation)
	}
	return nil
}

// encodeScratch stores the loosely-typed scratch field as JSON.
func encodeScratch(v any) (*string, error) {
	if v == nil {
		return nil, nil //nolint:nilnil // NULL column
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: scratch is not JSON encodable: %v", ErrValidation, err)
	}
	if len(data) > maxScratchLength {
		return nil, fmt.Errorf("%w: scratch exceeds %d bytes", ErrValidation, maxScratchLength)
	}
	s := string(data)
	return &s, nil
}

// normalizeScratch round-trips v through JSON so in-memory values compare
// equal to values read back from the database.
func normalizeScratch(v any) (any, error) {
	enc, err := encodeScratch(v)
	if err != nil || enc == nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal([]byte(*enc), &out); err != nil {
		return nil, fmt.Errorf("decoding scratch: %w", err)
	}
	return out, nil
}

// stringField extracts a required string from a payload.
func stringField(f Fields, key string) (string, error) {
	v, ok := f[key]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", ErrValidation, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrValidation, key, v)
	}
	return s, nil
}

// optionalString extracts an optional string, returning "" when absent.
func optionalString(f Fields, key string) (string, error) {
	if _, ok := f[key]; !ok {
		return "", nil
	}
	return stringField(f, key)
}

// optionalBool extracts an optional bool.
func optionalBool(f Fields, key string) (value, present bool, err error) {
	v, ok := f[key]
	if !ok {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, true, fmt.Errorf("%w: %s must be a bool, got %T", ErrValidation, key, v)
	}
	return b, true, nil
}

// numberField extracts a required number, accepting any Go numeric type.
func numberField(f Fields, key string) (float64, error) {
	v, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrValidation, key)
	}
	n, ok := normalizeValue(v).(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrValidation, key, v)
	}
	return n, nil
}

// checkKeys rejects payload keys outside allowed.
func checkKeys(f Fields, allowed ...string) error {
	for k := range f {
		if !slices.Contains(allowed, k) {
			return fmt.Errorf("%w: unknown field %q", ErrValidation, k)
		}
	}
	return nil
}
