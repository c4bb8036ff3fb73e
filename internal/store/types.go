package store

import (
	"slices"
	"time"
)

// RecordType names a kind of record held by the store.
type RecordType string

// Record types.
const (
	TypeDevice        RecordType = "Device"
	TypeComponent     RecordType = "Component"
	TypeSensorReading RecordType = "SensorReading"
)

// AllRecordTypes returns every record type the store knows.
func AllRecordTypes() []RecordType {
	return []RecordType{TypeDevice, TypeComponent, TypeSensorReading}
}

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	return slices.Contains(AllRecordTypes(), t)
}

// Asymmetric reports whether records of this type only flow upward.
// Asymmetric records are queued for upload and never returned by Query.
func (t RecordType) Asymmetric() bool {
	return t == TypeSensorReading
}

// Record is the common view over every stored type.
type Record interface {
	// Type returns the record's type.
	Type() RecordType

	// Key returns the record's unique identifier.
	Key() string

	// Owner returns the owner identity the record is partitioned by.
	Owner() string

	// Fields returns the record's filterable and diffable fields, keyed by
	// their column names.
	Fields() map[string]any
}

// Fields is a loosely-typed create or update payload keyed by column name.
type Fields map[string]any

// Device is a synced device owned by a single user.
type Device struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	IsOn        bool        `json:"is_on"`
	OwnerID     string      `json:"owner_id"`
	Scratch     any         `json:"scratch"`
	Components  []Component `json:"components,omitempty"`
	LastReading *float64    `json:"last_reading,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Type implements Record.
func (d *Device) Type() RecordType { return TypeDevice }

// Key implements Record.
func (d *Device) Key() string { return d.ID }

// Owner implements Record.
func (d *Device) Owner() string { return d.OwnerID }

// Fields implements Record. Components are reported as their ids in order.
func (d *Device) Fields() map[string]any {
	ids := make([]string, len(d.Components))
	for i, c := range d.Components {
		ids[i] = c.ID
	}
	var last any
	if d.LastReading != nil {
		last = *d.LastReading
	}
	return map[string]any{
		"id":           d.ID,
		"name":         d.Name,
		"is_on":        d.IsOn,
		"owner_id":     d.OwnerID,
		"scratch":      d.Scratch,
		"components":   ids,
		"last_reading": last,
	}
}

// DeepCopy creates an independent copy of the Device, including its
// component list and last reading.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	if d.Components != nil {
		cp.Components = append([]Component(nil), d.Components...)
	}
	if d.LastReading != nil {
		v := *d.LastReading
		cp.LastReading = &v
	}
	cp.Scratch = deepCopyValue(d.Scratch)
	return &cp
}

// Component belongs to exactly one Device.
type Component struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	DeviceID  string    `json:"device_id"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Type implements Record.
func (c *Component) Type() RecordType { return TypeComponent }

// Key implements Record.
func (c *Component) Key() string { return c.ID }

// Owner implements Record.
func (c *Component) Owner() string { return c.OwnerID }

// Fields implements Record.
func (c *Component) Fields() map[string]any {
	return map[string]any{
		"id":        c.ID,
		"name":      c.Name,
		"owner_id":  c.OwnerID,
		"device_id": c.DeviceID,
		"position":  c.Position,
	}
}

// SensorReading is an append-only measurement. It is never modified after
// it is written and is removed locally once uploaded.
type SensorReading struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Value1    float64   `json:"value_1"`
	Value2    float64   `json:"value_2"`
	Timestamp time.Time `json:"timestamp"`
}

// Type implements Record.
func (r *SensorReading) Type() RecordType { return TypeSensorReading }

// Key implements Record.
func (r *SensorReading) Key() string { return r.ID }

// Owner implements Record.
func (r *SensorReading) Owner() string { return r.OwnerID }

// Fields implements Record.
func (r *SensorReading) Fields() map[string]any {
	return map[string]any{
		"id":        r.ID,
		"owner_id":  r.OwnerID,
		"value_1":   r.Value1,
		"value_2":   r.Value2,
		"timestamp": r.Timestamp,
	}
}

// deepCopyValue copies the JSON-shaped values a scratch field may hold.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, inner := range val {
			cp[k] = deepCopyValue(inner)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, inner := range val {
			cp[i] = deepCopyValue(inner)
		}
		return cp
	default:
		return v
	}
}
