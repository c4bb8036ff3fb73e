package store

import (
	"fmt"
	"strings"
)

// Condition is a single field equality test.
type Condition struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Filter is a conjunction of equality conditions.
// The zero Filter matches every record.
type Filter struct {
	Conditions []Condition `json:"conditions,omitempty"`
}

// Eq returns a filter matching records whose field equals value.
func Eq(field string, value any) Filter {
	return Filter{Conditions: []Condition{{Field: field, Value: normalizeValue(value)}}}
}

// And returns a filter matching records that satisfy both f and other.
func (f Filter) And(other Filter) Filter {
	conds := make([]Condition, 0, len(f.Conditions)+len(other.Conditions))
	conds = append(conds, f.Conditions...)
	conds = append(conds, other.Conditions...)
	return Filter{Conditions: conds}
}

// IsEmpty reports whether the filter has no conditions.
func (f Filter) IsEmpty() bool {
	return len(f.Conditions) == 0
}

// Matches reports whether r satisfies every condition.
// Conditions on fields the record does not have never match.
func (f Filter) Matches(r Record) bool {
	if r == nil {
		return false
	}
	fields := r.Fields()
	for _, c := range f.Conditions {
		v, ok := fields[c.Field]
		if !ok || !valuesEqual(v, c.Value) {
			return false
		}
	}
	return true
}

// String renders the filter in a readable predicate form.
func (f Filter) String() string {
	if f.IsEmpty() {
		return "TRUEPREDICATE"
	}
	parts := make([]string, len(f.Conditions))
	for i, c := range f.Conditions {
		parts[i] = fmt.Sprintf("%s = %#v", c.Field, c.Value)
	}
	return strings.Join(parts, " AND ")
}

// filterableFields whitelists the columns each type can be filtered on.
// Keys double as SQL column names, so nothing outside this list ever
// reaches a query string.
var filterableFields = map[RecordType]map[string]struct{}{
	TypeDevice: {
		"id": {}, "name": {}, "is_on": {}, "owner_id": {},
	},
	TypeComponent: {
		"id": {}, "name": {}, "owner_id": {}, "device_id": {}, "position": {},
	},
}

// Validate checks that every condition names a filterable field of t.
func (f Filter) Validate(t RecordType) error {
	allowed, ok := filterableFields[t]
	if !ok {
		if t.Asymmetric() {
			return ErrAsymmetric
		}
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	for _, c := range f.Conditions {
		if _, ok := allowed[c.Field]; !ok {
			return fmt.Errorf("%w: field %q is not filterable on %s", ErrValidation, c.Field, t)
		}
		switch c.Value.(type) {
		case string, bool, float64:
		default:
			return fmt.Errorf("%w: unsupported value %T for field %q", ErrValidation, c.Value, c.Field)
		}
	}
	return nil
}

// where renders the filter as a SQL WHERE clause for table alias.
// Validate must have been called first.
func (f Filter) where(alias string) (string, []any) {
	if f.IsEmpty() {
		return "", nil
	}
	parts := make([]string, len(f.Conditions))
	args := make([]any, len(f.Conditions))
	for i, c := range f.Conditions {
		parts[i] = alias + "." + c.Field + " = ?"
		args[i] = c.Value
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

// normalizeValue folds numeric types to float64 so filters compare the same
// way after a JSON round trip.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

// valuesEqual compares scalar values. Non-scalar values never match.
func valuesEqual(a, b any) bool {
	a, b = normalizeValue(a), normalizeValue(b)
	switch a.(type) {
	case string, bool, float64:
		return a == b
	default:
		return false
	}
}
