package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/devicesync/internal/infrastructure/database"
	"github.com/nerrad567/devicesync/internal/notify"
)

func (t *Txn) appendReading(f Fields) (*SensorReading, error) {
	if err := checkKeys(f, "id", "owner_id", "value_1", "value_2", "timestamp"); err != nil {
		return nil, err
	}

	r := &SensorReading{}

	var err error
	if r.ID, err = t.recordID(f); err != nil {
		return nil, err
	}
	if r.OwnerID, err = stringField(f, "owner_id"); err != nil {
		return nil, err
	}
	if err := ValidateOwner(r.OwnerID); err != nil {
		return nil, err
	}
	if r.Value1, err = numberField(f, "value_1"); err != nil {
		return nil, err
	}
	if r.Value2, err = numberField(f, "value_2"); err != nil {
		return nil, err
	}

	r.Timestamp = t.now
	if v, ok := f["timestamp"]; ok {
		ts, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: timestamp must be a time, got %T", ErrValidation, v)
		}
		r.Timestamp = ts.UTC()
	}

	floor, err := t.latestReading(r.OwnerID)
	if err != nil {
		return nil, err
	}
	if r.Timestamp.Before(floor) {
		r.Timestamp = floor
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO sensor_readings (id, owner_id, value_1, value_2, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.Value1, r.Value2, formatTime(r.Timestamp),
	)
	if err != nil {
		if isConstraintErr(err) {
			return nil, fmt.Errorf("%w: reading %s already exists", ErrValidation, r.ID)
		}
		return nil, fmt.Errorf("inserting sensor reading: %w", err)
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO reading_clock (owner_id, last_timestamp) VALUES (?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET last_timestamp = excluded.last_timestamp`,
		r.OwnerID, formatTime(r.Timestamp),
	)
	if err != nil {
		return nil, fmt.Errorf("advancing reading clock: %w", err)
	}

	if err := t.stampLastReading(r); err != nil {
		return nil, err
	}
	return r, nil
}

// latestReading returns the newest reading timestamp recorded for owner.
// The clock outlives the readings, which are deleted once uploaded.
func (t *Txn) latestReading(owner string) (time.Time, error) {
	var stored string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT last_timestamp FROM reading_clock WHERE owner_id = ?`, owner,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying reading clock: %w", err)
	}
	ts, err := parseTime(stored)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing reading clock: %w", err)
	}
	return ts, nil
}

// stampLastReading copies the reading's first value onto the owner's
// first device.
func (t *Txn) stampLastReading(r *SensorReading) error {
	var deviceID string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT id FROM devices WHERE owner_id = ? ORDER BY created_at, rowid LIMIT 1`, r.OwnerID,
	).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("querying first device: %w", err)
	}

	d, err := getDevice(t.ctx, t.tx, deviceID)
	if err != nil {
		return err
	}
	value := r.Value1
	if d.LastReading != nil && *d.LastReading == value {
		return nil
	}
	d.LastReading = &value
	d.UpdatedAt = t.now

	if err := t.writeDevice(d); err != nil {
		return err
	}
	t.emit(d, notify.Change{Kind: notify.Updated, ChangedFields: []string{"last_reading"}})
	return t.recordUpsert(d)
}

// PendingReadings returns up to limit queued readings in insertion order.
// A limit of zero or less returns every reading.
func (s *Store) PendingReadings(ctx context.Context, limit int) ([]SensorReading, error) {
	query := `SELECT id, owner_id, value_1, value_2, timestamp FROM sensor_readings ORDER BY seq`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pending readings: %w", err)
	}
	defer rows.Close()

	readings := []SensorReading{}
	for rows.Next() {
		var r SensorReading
		var ts string
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Value1, &r.Value2, &ts); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing reading timestamp: %w", err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

// AckReadings removes uploaded readings from the local queue.
func (s *Store) AckReadings(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `DELETE FROM sensor_readings WHERE id IN (` + placeholders(len(ids)) + `)`

	s.mu.Lock()
	defer s.mu.Unlock()

	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("acknowledging readings: %w", err)
		}
		return nil
	})
}
