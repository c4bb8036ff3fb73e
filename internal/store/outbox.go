package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/devicesync/internal/infrastructure/database"
)

// ChangeOp is the kind of an outbox entry.
type ChangeOp string

// Outbox operations.
const (
	OpUpsert ChangeOp = "upsert"
	OpDelete ChangeOp = "delete"
)

// PendingChange is a local mutation waiting to be uploaded.
type PendingChange struct {
	Seq       int64           `json:"seq"`
	Type      RecordType      `json:"type"`
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Op        ChangeOp        `json:"op"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// recordUpsert appends an upsert outbox entry for r. Remote transactions
// record nothing.
func (t *Txn) recordUpsert(r Record) error {
	if t.remote {
		return nil
	}
	payload, err := payloadFor(r)
	if err != nil {
		return err
	}
	return t.appendOutbox(r, OpUpsert, payload)
}

// recordDelete appends a delete outbox entry for r.
func (t *Txn) recordDelete(r Record) error {
	if t.remote {
		return nil
	}
	return t.appendOutbox(r, OpDelete, nil)
}

func (t *Txn) appendOutbox(r Record, op ChangeOp, payload []byte) error {
	var p any
	if payload != nil {
		p = string(payload)
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO pending_changes (record_type, record_id, owner_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(r.Type()), r.Key(), r.Owner(), string(op), p, formatTime(t.now),
	)
	if err != nil {
		return fmt.Errorf("appending outbox entry: %w", err)
	}
	return nil
}

// PendingChanges returns up to limit outbox entries in commit order.
// A limit of zero or less returns every entry.
func (s *Store) PendingChanges(ctx context.Context, limit int) ([]PendingChange, error) {
	query := `
		SELECT seq, record_type, record_id, owner_id, kind, payload, created_at
		FROM pending_changes
		ORDER BY seq`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pending changes: %w", err)
	}
	defer rows.Close()

	changes := []PendingChange{}
	for rows.Next() {
		var pc PendingChange
		var recordType, op, createdAt string
		var payload sql.NullString
		if err := rows.Scan(&pc.Seq, &recordType, &pc.ID, &pc.OwnerID, &op, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning pending change: %w", err)
		}
		pc.Type = RecordType(recordType)
		pc.Op = ChangeOp(op)
		if payload.Valid {
			pc.Payload = json.RawMessage(payload.String)
		}
		if pc.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		changes = append(changes, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending changes: %w", err)
	}
	return changes, nil
}

// AckChanges removes uploaded outbox entries by sequence number.
func (s *Store) AckChanges(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	args := make([]any, len(seqs))
	for i, seq := range seqs {
		args[i] = seq
	}
	query := `DELETE FROM pending_changes WHERE seq IN (` + placeholders(len(seqs)) + `)`

	s.mu.Lock()
	defer s.mu.Unlock()

	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("acknowledging changes: %w", err)
		}
		return nil
	})
}

// pendingKeys returns the type/id pairs that still have outbox entries.
func pendingKeys(ctx context.Context, q queryer) (map[string]struct{}, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT record_type, record_id FROM pending_changes`)
	if err != nil {
		return nil, fmt.Errorf("querying pending keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var t, id string
		if err := rows.Scan(&t, &id); err != nil {
			return nil, fmt.Errorf("scanning pending key: %w", err)
		}
		keys[recordKey(RecordType(t), id)] = struct{}{}
	}
	return keys, rows.Err()
}

func recordKey(t RecordType, id string) string {
	return string(t) + "/" + id
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
