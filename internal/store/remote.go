package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/devicesync/internal/notify"
)

// RemoteChange is a record materialised by the sync engine.
type RemoteChange struct {
	Type    RecordType
	ID      string
	Deleted bool

	// Payload is the record's JSON upload form. Ignored for deletions.
	Payload json.RawMessage
}

// ApplyResult counts what ApplyRemote did.
type ApplyResult struct {
	Applied int
	Stale   int // Older than the local row
	Skipped int // Unknown type or asymmetric
	Parked  int // Components waiting for their device
	Adopted int // Parked components applied once their device arrived
}

// ApplyRemote applies remote changes in one transaction without recording
// them in the outbox. Conflicts resolve last-writer-wins on updated_at:
// a remote record older than the local row is dropped, and a winning one
// discards the local changes still queued for that record.
//
// Retained messages arrive in no particular order, so a component whose
// device is not yet known is parked and applied in the transaction that
// inserts the device.
func (s *Store) ApplyRemote(ctx context.Context, changes []RemoteChange) (ApplyResult, error) {
	var res ApplyResult
	err := s.write(ctx, true, func(txn *Txn) error {
		res = ApplyResult{}
		for _, ch := range changes {
			outcome, err := txn.applyRemote(ch)
			if err != nil {
				return fmt.Errorf("applying remote %s %s: %w", ch.Type, ch.ID, err)
			}
			switch outcome {
			case remoteApplied:
				res.Applied++
			case remoteStale:
				res.Stale++
			case remoteParked:
				res.Parked++
			default:
				res.Skipped++
			}
		}
		res.Adopted = txn.adopted
		return nil
	})
	return res, err
}

type remoteOutcome int

const (
	remoteApplied remoteOutcome = iota
	remoteStale
	remoteSkipped
	remoteParked
)

func (t *Txn) applyRemote(ch RemoteChange) (remoteOutcome, error) {
	switch ch.Type {
	case TypeDevice:
		if ch.Deleted {
			return t.applyRemoteDeviceDelete(ch.ID)
		}
		var d Device
		if err := json.Unmarshal(ch.Payload, &d); err != nil {
			return remoteSkipped, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return t.applyRemoteDevice(&d)
	case TypeComponent:
		if ch.Deleted {
			return t.applyRemoteComponentDelete(ch.ID)
		}
		var c Component
		if err := json.Unmarshal(ch.Payload, &c); err != nil {
			return remoteSkipped, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return t.applyRemoteComponent(&c)
	default:
		t.store.logger.Debug("ignoring remote change", "type", ch.Type, "id", ch.ID)
		return remoteSkipped, nil
	}
}

func (t *Txn) applyRemoteDevice(d *Device) (remoteOutcome, error) {
	if err := validateRemote(d.ID, d.OwnerID, d.Name); err != nil {
		return remoteSkipped, err
	}
	scratch, err := normalizeScratch(d.Scratch)
	if err != nil {
		return remoteSkipped, err
	}
	d.Scratch = scratch
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()

	existing, err := getDevice(t.ctx, t.tx, d.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		d.Components = []Component{}
		if err := t.insertDevice(d); err != nil {
			return remoteSkipped, err
		}
		t.emit(d, notify.Change{Kind: notify.Inserted})
		if err := t.adoptParked(d.ID); err != nil {
			return remoteSkipped, err
		}
		return remoteApplied, nil
	case err != nil:
		return remoteSkipped, err
	}

	if existing.UpdatedAt.After(d.UpdatedAt) {
		return remoteStale, nil
	}
	if err := t.dropPending(TypeDevice, d.ID); err != nil {
		return remoteSkipped, err
	}
	d.Components = existing.Components
	changed := changedFields(existing, d)
	if len(changed) == 0 && existing.UpdatedAt.Equal(d.UpdatedAt) {
		return remoteApplied, nil
	}
	if err := t.writeDevice(d); err != nil {
		return remoteSkipped, err
	}
	if len(changed) > 0 {
		t.emit(d, notify.Change{Kind: notify.Updated, ChangedFields: changed})
	}
	return remoteApplied, nil
}

func (t *Txn) applyRemoteComponent(c *Component) (remoteOutcome, error) {
	if err := validateRemote(c.ID, c.OwnerID, c.Name); err != nil {
		return remoteSkipped, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	existing, err := getComponent(t.ctx, t.tx, c.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		device, err := getDevice(t.ctx, t.tx, c.DeviceID)
		if errors.Is(err, ErrNotFound) {
			if err := t.parkComponent(c); err != nil {
				return remoteSkipped, err
			}
			return remoteParked, nil
		}
		if err != nil {
			return remoteSkipped, err
		}
		if err := t.insertComponent(c); err != nil {
			return remoteSkipped, err
		}
		device.Components = append(device.Components, *c)
		t.emit(c, notify.Change{Kind: notify.Inserted})
		t.emit(device, notify.Change{Kind: notify.Updated, ChangedFields: []string{"components"}})
		return remoteApplied, nil
	case err != nil:
		return remoteSkipped, err
	}

	if existing.UpdatedAt.After(c.UpdatedAt) {
		return remoteStale, nil
	}
	if existing.DeviceID != c.DeviceID {
		return remoteSkipped, fmt.Errorf("%w: component %s cannot move between devices", ErrValidation, c.ID)
	}
	if err := t.dropPending(TypeComponent, c.ID); err != nil {
		return remoteSkipped, err
	}
	changed := changedFields(existing, c)
	if len(changed) == 0 {
		return remoteApplied, nil
	}
	_, err = t.tx.ExecContext(t.ctx,
		`UPDATE components SET name = ?, position = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Position, formatTime(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return remoteSkipped, fmt.Errorf("updating component: %w", err)
	}
	t.emit(c, notify.Change{Kind: notify.Updated, ChangedFields: changed})
	return remoteApplied, nil
}

func (t *Txn) applyRemoteDeviceDelete(id string) (remoteOutcome, error) {
	if _, err := t.unpark(`device_id = ?`, id); err != nil {
		return remoteSkipped, err
	}
	d, err := getDevice(t.ctx, t.tx, id)
	if errors.Is(err, ErrNotFound) {
		return remoteSkipped, nil
	}
	if err != nil {
		return remoteSkipped, err
	}
	for i := range d.Components {
		if err := t.dropPending(TypeComponent, d.Components[i].ID); err != nil {
			return remoteSkipped, err
		}
	}
	if err := t.dropPending(TypeDevice, id); err != nil {
		return remoteSkipped, err
	}
	if err := t.deleteDevice(d); err != nil {
		return remoteSkipped, err
	}
	return remoteApplied, nil
}

func (t *Txn) applyRemoteComponentDelete(id string) (remoteOutcome, error) {
	unparked, err := t.unpark(`id = ?`, id)
	if err != nil {
		return remoteSkipped, err
	}
	c, err := getComponent(t.ctx, t.tx, id)
	if errors.Is(err, ErrNotFound) {
		if unparked > 0 {
			return remoteApplied, nil
		}
		return remoteSkipped, nil
	}
	if err != nil {
		return remoteSkipped, err
	}
	if err := t.dropPending(TypeComponent, id); err != nil {
		return remoteSkipped, err
	}
	if err := t.deleteComponent(c); err != nil {
		return remoteSkipped, err
	}
	return remoteApplied, nil
}

func validateRemote(id, owner, name string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := ValidateOwner(owner); err != nil {
		return err
	}
	return ValidateName(name)
}
