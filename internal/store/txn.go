package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/devicesync/internal/notify"
)

// Txn is the mutation scope handed to Store.Write. It must not be retained
// or used after the Write callback returns.
type Txn struct {
	ctx    context.Context
	tx     *sql.Tx
	store  *Store
	remote bool
	now    time.Time
	closed bool

	events  []notify.Event
	adopted int
}

func (t *Txn) close() {
	t.closed = true
}

func (t *Txn) check() error {
	if t.closed || t.tx == nil {
		return ErrTxnClosed
	}
	return nil
}

// Create inserts a record of type rt built from f.
// Malformed payloads return ErrValidation.
func (t *Txn) Create(rt RecordType, f Fields) (Record, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	switch rt {
	case TypeDevice:
		return t.createDevice(f)
	case TypeComponent:
		return t.addComponent(f)
	case TypeSensorReading:
		return t.appendReading(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, rt)
	}
}

// CreateDevice creates a switched-off device named name for owner.
func (t *Txn) CreateDevice(owner, name string) (*Device, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.createDevice(Fields{"owner_id": owner, "name": name, "is_on": false, "scratch": ""})
}

// AddComponent appends a new component to the device's component list.
// Returns ErrNotFound if the device does not exist.
func (t *Txn) AddComponent(deviceID, owner, name string) (*Component, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.addComponent(Fields{"device_id": deviceID, "owner_id": owner, "name": name})
}

// AppendReading queues a sensor reading for upload and records value1 as
// the last reading of the owner's first device, if there is one.
func (t *Txn) AppendReading(owner string, value1, value2 float64) (*SensorReading, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return t.appendReading(Fields{"owner_id": owner, "value_1": value1, "value_2": value2})
}

// Devices returns the devices matching f as seen inside this transaction.
func (t *Txn) Devices(f Filter) ([]Device, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return queryDevices(t.ctx, t.tx, f)
}

// Device returns one device as seen inside this transaction.
func (t *Txn) Device(id string) (*Device, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return getDevice(t.ctx, t.tx, id)
}

// Query returns records of type rt matching f as seen inside this transaction.
func (t *Txn) Query(rt RecordType, f Filter) ([]Record, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	return queryRecords(t.ctx, t.tx, rt, f)
}

// UpdateDevice applies the name, is_on and scratch fields present in f.
// An update that changes nothing emits no event.
func (t *Txn) UpdateDevice(id string, f Fields) (*Device, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if err := checkKeys(f, "name", "is_on", "scratch"); err != nil {
		return nil, err
	}

	existing, err := getDevice(t.ctx, t.tx, id)
	if err != nil {
		return nil, err
	}
	updated := existing.DeepCopy()

	if _, ok := f["name"]; ok {
		name, err := stringField(f, "name")
		if err != nil {
			return nil, err
		}
		if err := ValidateName(name); err != nil {
			return nil, err
		}
		updated.Name = name
	}
	if isOn, ok, err := optionalBool(f, "is_on"); err != nil {
		return nil, err
	} else if ok {
		updated.IsOn = isOn
	}
	if v, ok := f["scratch"]; ok {
		scratch, err := normalizeScratch(v)
		if err != nil {
			return nil, err
		}
		updated.Scratch = scratch
	}

	changed := changedFields(existing, updated)
	if len(changed) == 0 {
		return updated, nil
	}
	updated.UpdatedAt = t.now

	if err := t.writeDevice(updated); err != nil {
		return nil, err
	}
	t.emit(updated, notify.Change{Kind: notify.Updated, ChangedFields: changed})
	if err := t.recordUpsert(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteDevice removes a device and its components.
// Returns ErrNotFound if the device does not exist.
func (t *Txn) DeleteDevice(id string) error {
	if err := t.check(); err != nil {
		return err
	}
	d, err := getDevice(t.ctx, t.tx, id)
	if err != nil {
		return err
	}
	return t.deleteDevice(d)
}

// DeleteAll removes every device and component, including remote
// components still waiting for their device.
func (t *Txn) DeleteAll() error {
	if err := t.check(); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM parked_components`); err != nil {
		return fmt.Errorf("clearing parked components: %w", err)
	}
	devices, err := queryDevices(t.ctx, t.tx, Filter{})
	if err != nil {
		return err
	}
	for i := range devices {
		if err := t.deleteDevice(&devices[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Txn) createDevice(f Fields) (*Device, error) {
	if err := checkKeys(f, "id", "name", "owner_id", "is_on", "scratch"); err != nil {
		return nil, err
	}

	d := &Device{CreatedAt: t.now, UpdatedAt: t.now}

	var err error
	if d.ID, err = t.recordID(f); err != nil {
		return nil, err
	}
	if d.Name, err = stringField(f, "name"); err != nil {
		return nil, err
	}
	if err := ValidateName(d.Name); err != nil {
		return nil, err
	}
	if d.OwnerID, err = stringField(f, "owner_id"); err != nil {
		return nil, err
	}
	if err := ValidateOwner(d.OwnerID); err != nil {
		return nil, err
	}
	if d.IsOn, _, err = optionalBool(f, "is_on"); err != nil {
		return nil, err
	}
	if d.Scratch, err = normalizeScratch(f["scratch"]); err != nil {
		return nil, err
	}
	d.Components = []Component{}

	if err := t.insertDevice(d); err != nil {
		return nil, err
	}
	t.emit(d, notify.Change{Kind: notify.Inserted})
	if err := t.recordUpsert(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (t *Txn) addComponent(f Fields) (*Component, error) {
	if err := checkKeys(f, "id", "name", "owner_id", "device_id"); err != nil {
		return nil, err
	}

	c := &Component{CreatedAt: t.now, UpdatedAt: t.now}

	var err error
	if c.ID, err = t.recordID(f); err != nil {
		return nil, err
	}
	if c.Name, err = stringField(f, "name"); err != nil {
		return nil, err
	}
	if err := ValidateName(c.Name); err != nil {
		return nil, err
	}
	if c.OwnerID, err = stringField(f, "owner_id"); err != nil {
		return nil, err
	}
	if err := ValidateOwner(c.OwnerID); err != nil {
		return nil, err
	}
	if c.DeviceID, err = stringField(f, "device_id"); err != nil {
		return nil, err
	}

	device, err := getDevice(t.ctx, t.tx, c.DeviceID)
	if err != nil {
		return nil, err
	}
	if device.OwnerID != c.OwnerID {
		return nil, fmt.Errorf("%w: component owner %q does not match device owner", ErrValidation, c.OwnerID)
	}
	if n := len(device.Components); n > 0 {
		c.Position = device.Components[n-1].Position + 1
	}

	if err := t.insertComponent(c); err != nil {
		return nil, err
	}

	device.Components = append(device.Components, *c)
	device.UpdatedAt = t.now
	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE devices SET updated_at = ? WHERE id = ?`, formatTime(device.UpdatedAt), device.ID,
	); err != nil {
		return nil, fmt.Errorf("touching device: %w", err)
	}

	t.emit(c, notify.Change{Kind: notify.Inserted})
	t.emit(device, notify.Change{Kind: notify.Updated, ChangedFields: []string{"components"}})
	if err := t.recordUpsert(c); err != nil {
		return nil, err
	}
	if err := t.recordUpsert(device); err != nil {
		return nil, err
	}
	return c, nil
}

func (t *Txn) deleteDevice(d *Device) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM devices WHERE id = ?`, d.ID); err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	for i := range d.Components {
		c := d.Components[i]
		t.emit(&c, notify.Change{Kind: notify.Deleted})
		if err := t.recordDelete(&c); err != nil {
			return err
		}
	}
	t.emit(d, notify.Change{Kind: notify.Deleted})
	return t.recordDelete(d)
}

func (t *Txn) deleteComponent(c *Component) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM components WHERE id = ?`, c.ID); err != nil {
		return fmt.Errorf("deleting component: %w", err)
	}
	t.emit(c, notify.Change{Kind: notify.Deleted})
	return t.recordDelete(c)
}

// recordID returns the payload's id, or a new one when absent.
func (t *Txn) recordID(f Fields) (string, error) {
	id, err := optionalString(f, "id")
	if err != nil {
		return "", err
	}
	if id == "" {
		return GenerateID(), nil
	}
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return id, nil
}

func (t *Txn) insertDevice(d *Device) error {
	scratch, err := encodeScratch(d.Scratch)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO devices (id, owner_id, name, is_on, scratch, last_reading, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OwnerID, d.Name, boolToInt(d.IsOn), scratch, d.LastReading,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("%w: device %s already exists", ErrValidation, d.ID)
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

func (t *Txn) writeDevice(d *Device) error {
	scratch, err := encodeScratch(d.Scratch)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `
		UPDATE devices SET name = ?, is_on = ?, scratch = ?, last_reading = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, boolToInt(d.IsOn), scratch, d.LastReading, formatTime(d.UpdatedAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return nil
}

func (t *Txn) insertComponent(c *Component) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO components (id, owner_id, device_id, name, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.DeviceID, c.Name, c.Position,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("%w: component %s already exists", ErrValidation, c.ID)
		}
		return fmt.Errorf("inserting component: %w", err)
	}
	return nil
}

// emit records an event for delivery after commit. Objects are copied so
// later mutations in the same transaction do not leak into earlier events.
func (t *Txn) emit(r Record, change notify.Change) {
	var obj Record
	switch v := r.(type) {
	case *Device:
		obj = v.DeepCopy()
	case *Component:
		cp := *v
		obj = &cp
	default:
		obj = r
	}
	t.events = append(t.events, notify.Event{
		Type:   string(r.Type()),
		ID:     r.Key(),
		Object: obj,
		Change: change,
	})
}

// changedFields lists the Record fields that differ between a and b.
func changedFields(a, b Record) []string {
	fa, fb := a.Fields(), b.Fields()
	var changed []string
	for k, va := range fa {
		if !reflect.DeepEqual(va, fb[k]) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isConstraintErr checks if an error is a SQLite unique constraint violation.
func isConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}

// payloadFor encodes the upload form of a record.
func payloadFor(r Record) ([]byte, error) {
	if d, ok := r.(*Device); ok {
		cp := d.DeepCopy()
		cp.Components = nil
		r = cp
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", r.Type(), err)
	}
	return data, nil
}
