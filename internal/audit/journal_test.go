package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/devicesync/internal/infrastructure/database"
	_ "github.com/nerrad567/devicesync/migrations"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := database.Open(context.Background(), database.Config{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewJournal(db.DB)
}

func TestRecord_FillsDefaults(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	e := &Entry{Action: "create", RecordType: "Device", RecordID: "d-1", UserID: "u-1", Source: "api",
		Details: map[string]any{"name": "Thermostat"}}
	if err := j.Record(ctx, e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("Record() left ID=%q CreatedAt=%v", e.ID, e.CreatedAt)
	}

	page, err := j.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 1 || len(page.Entries) != 1 {
		t.Fatalf("List() total=%d entries=%d, want 1/1", page.Total, len(page.Entries))
	}
	got := page.Entries[0]
	if diff := cmp.Diff(*e, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("List() entry mismatch (-want +got):\n%s", diff)
	}
}

func TestRecord_Invalid(t *testing.T) {
	j := testJournal(t)

	for _, e := range []*Entry{{Source: "api"}, {Action: "create"}} {
		if err := j.Record(context.Background(), e); !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("Record(%+v) error = %v, want ErrInvalidEntry", e, err)
		}
	}
}

func TestList_FiltersAndOrder(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	seed := []Entry{
		{Action: "login", UserID: "u-1", Source: "api", CreatedAt: base},
		{Action: "create", RecordType: "Device", UserID: "u-1", Source: "api", CreatedAt: base.Add(time.Second)},
		{Action: "create", RecordType: "Component", UserID: "u-1", Source: "api", CreatedAt: base.Add(2 * time.Second)},
		{Action: "cleanup", UserID: "u-2", Source: "api", CreatedAt: base.Add(500 * time.Millisecond)},
	}
	for i := range seed {
		if err := j.Record(ctx, &seed[i]); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		actions []string
		total   int
	}{
		{"all newest first", Filter{}, []string{"create", "create", "cleanup", "login"}, 4},
		{"by action", Filter{Action: "create"}, []string{"create", "create"}, 2},
		{"by record type", Filter{RecordType: "Device"}, []string{"create"}, 1},
		{"by user", Filter{UserID: "u-2"}, []string{"cleanup"}, 1},
		{"since", Filter{Since: base.Add(time.Second)}, []string{"create", "create"}, 2},
		{"paged", Filter{Limit: 2, Offset: 1}, []string{"create", "cleanup"}, 4},
		{"no match", Filter{Action: "resume"}, []string{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := j.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			actions := []string{}
			for _, e := range page.Entries {
				actions = append(actions, e.Action)
			}
			if diff := cmp.Diff(tt.actions, actions); diff != "" {
				t.Errorf("actions mismatch (-want +got):\n%s", diff)
			}
			if page.Total != tt.total {
				t.Errorf("Total = %d, want %d", page.Total, tt.total)
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	j := testJournal(t)

	tests := []struct {
		limit, want int
	}{
		{0, defaultLimit},
		{-5, defaultLimit},
		{10, 10},
		{10000, maxLimit},
	}
	for _, tt := range tests {
		page, err := j.List(context.Background(), Filter{Limit: tt.limit, Offset: -1})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if page.Limit != tt.want || page.Offset != 0 {
			t.Errorf("List(limit=%d) = limit %d offset %d, want %d 0", tt.limit, page.Limit, page.Offset, tt.want)
		}
	}
}

func TestPrune(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		if err := j.Record(ctx, &Entry{Action: "pause", Source: "api", CreatedAt: now.Add(-age)}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := j.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() removed %d, want 2", n)
	}

	page, err := j.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 1 {
		t.Errorf("Total after prune = %d, want 1", page.Total)
	}
}
