package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeLayout is fixed width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is one journalled operation.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	RecordType string         `json:"record_type,omitempty"`
	RecordID   string         `json:"record_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter selects entries for List. Zero fields match everything.
type Filter struct {
	Action     string
	RecordType string
	UserID     string
	Since      time.Time
	Limit      int // default 50, max 200
	Offset     int
}

// Page is one page of List results, most recent first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Journal stores entries in the audit_logs table.
type Journal struct {
	db *sql.DB
}

// NewJournal creates a Journal over a migrated database.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record inserts e. ID and CreatedAt are filled in when empty.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	if e.Action == "" || e.Source == "" {
		return fmt.Errorf("%w: action and source are required", ErrInvalidEntry)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		details = string(b)
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, record_type, record_id, user_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action,
		nullable(e.RecordType), nullable(e.RecordID), nullable(e.UserID),
		e.Source, details,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching f, most recent first.
func (j *Journal) List(ctx context.Context, f Filter) (*Page, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var conds []string
	var args []any
	for _, c := range []struct {
		column, value string
	}{
		{"action", f.Action},
		{"record_type", f.RecordType},
		{"user_id", f.UserID},
	} {
		if c.value != "" {
			conds = append(conds, c.column+" = ?")
			args = append(args, c.value)
		}
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	//nolint:gosec // WHERE built from fixed column names with ? placeholders
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	//nolint:gosec // WHERE built from fixed column names with ? placeholders
	query := `SELECT id, action, record_type, record_id, user_id, source, details, created_at
		FROM audit_logs ` + where + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	rows, err := j.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &Page{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var recordType, recordID, userID, details sql.NullString
	var createdAt string

	if err := rows.Scan(&e.ID, &e.Action, &recordType, &recordID, &userID,
		&e.Source, &details, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning audit entry: %w", err)
	}
	e.RecordType = recordType.String
	e.RecordID = recordID.String
	e.UserID = userID.String

	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return Entry{}, fmt.Errorf("decoding audit details for %s: %w", e.ID, err)
		}
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}

// Prune deletes entries created before cutoff and returns how many were
// removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM audit_logs WHERE created_at < ?",
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning audit entries: %w", err)
	}
	return res.RowsAffected()
}
