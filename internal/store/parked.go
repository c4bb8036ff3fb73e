package store

import (
	"encoding/json"
	"fmt"
)

// parkComponent holds a remote component whose device has not arrived
// yet. A newer version replaces an older one; an older one is ignored.
func (t *Txn) parkComponent(c *Component) error {
	payload, err := payloadFor(c)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO parked_components (id, device_id, owner_id, payload, updated_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_id   = excluded.device_id,
			owner_id    = excluded.owner_id,
			payload     = excluded.payload,
			updated_at  = excluded.updated_at,
			received_at = excluded.received_at
		WHERE excluded.updated_at >= parked_components.updated_at`,
		c.ID, c.DeviceID, c.OwnerID, string(payload), formatTime(c.UpdatedAt), formatTime(t.now),
	)
	if err != nil {
		return fmt.Errorf("parking component: %w", err)
	}
	t.store.logger.Debug("remote component parked until its device arrives",
		"component_id", c.ID, "device_id", c.DeviceID)
	return nil
}

// adoptParked applies the components parked for deviceID. The device must
// already exist in this transaction.
func (t *Txn) adoptParked(deviceID string) error {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT payload FROM parked_components WHERE device_id = ? ORDER BY received_at, id`, deviceID)
	if err != nil {
		return fmt.Errorf("querying parked components: %w", err)
	}
	var payloads []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close() //nolint:errcheck // Scan error takes precedence
			return fmt.Errorf("scanning parked component: %w", err)
		}
		payloads = append(payloads, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck // Iteration error takes precedence
		return fmt.Errorf("iterating parked components: %w", err)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("closing parked components: %w", err)
	}
	if len(payloads) == 0 {
		return nil
	}

	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM parked_components WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("clearing parked components: %w", err)
	}

	for _, p := range payloads {
		var c Component
		if err := json.Unmarshal([]byte(p), &c); err != nil {
			t.store.logger.Warn("dropping unreadable parked component", "device_id", deviceID, "error", err)
			continue
		}
		outcome, err := t.applyRemoteComponent(&c)
		if err != nil {
			return fmt.Errorf("adopting component %s: %w", c.ID, err)
		}
		if outcome == remoteApplied {
			t.adopted++
		}
	}
	return nil
}

// unpark removes parked rows matching where. Returns how many were removed.
func (t *Txn) unpark(where string, args ...any) (int64, error) {
	//nolint:gosec // where is a fixed clause with ? placeholders
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM parked_components WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("removing parked components: %w", err)
	}
	return res.RowsAffected()
}

// evictParked drops parked components for which keep returns false.
func (t *Txn) evictParked(keep func(Record) bool) (int, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT id, payload FROM parked_components`)
	if err != nil {
		return 0, fmt.Errorf("querying parked components: %w", err)
	}
	var drop []any
	for rows.Next() {
		var id, p string
		if err := rows.Scan(&id, &p); err != nil {
			rows.Close() //nolint:errcheck // Scan error takes precedence
			return 0, fmt.Errorf("scanning parked component: %w", err)
		}
		var c Component
		if json.Unmarshal([]byte(p), &c) != nil || !keep(&c) {
			drop = append(drop, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck // Iteration error takes precedence
		return 0, fmt.Errorf("iterating parked components: %w", err)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("closing parked components: %w", err)
	}
	if len(drop) == 0 {
		return 0, nil
	}
	n, err := t.unpark(`id IN (`+placeholders(len(drop))+`)`, drop...)
	return int(n), err
}

// dropPending removes queued local changes to a record that a remote
// change has superseded, so they are never published over it.
func (t *Txn) dropPending(rt RecordType, id string) error {
	res, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM pending_changes WHERE record_type = ? AND record_id = ?`, string(rt), id)
	if err != nil {
		return fmt.Errorf("dropping superseded changes: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		t.store.logger.Debug("local changes superseded by remote", "type", rt, "id", id, "count", n)
	}
	return nil
}
