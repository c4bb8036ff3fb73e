package subscription

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/devicesync/internal/infrastructure/database"
	"github.com/nerrad567/devicesync/internal/store"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager owns the active subscription set for one owner.
//
// All public methods are thread-safe.
type Manager struct {
	db      *sql.DB
	owner   string
	evicter Evicter
	logger  Logger

	mu      sync.Mutex
	applier Applier
	active  []Subscription
	version uint64
	pending *Pending

	// applyMu serialises Applier calls and evictions.
	applyMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a Manager for owner. The evicter may be nil.
func New(db *sql.DB, owner string, evicter Evicter) *Manager {
	return &Manager{
		db:      db,
		owner:   owner,
		evicter: evicter,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetApplier sets the backend that receives subscription sets. Without an
// applier, updates complete as soon as they are persisted.
func (m *Manager) SetApplier(a Applier) {
	m.mu.Lock()
	m.applier = a
	m.mu.Unlock()
}

// Owner returns the owner identity every subscription is restricted to.
func (m *Manager) Owner() string {
	return m.owner
}

// Load restores the persisted subscription set without applying it.
func (m *Manager) Load(ctx context.Context) error {
	rows, err := m.db.QueryContext(ctx,
		`SELECT label, record_type, filter FROM subscriptions ORDER BY created_at, label`)
	if err != nil {
		return fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var s Subscription
		var recordType, filterJSON string
		if err := rows.Scan(&s.Label, &recordType, &filterJSON); err != nil {
			return fmt.Errorf("scanning subscription: %w", err)
		}
		s.Type = store.RecordType(recordType)
		if err := json.Unmarshal([]byte(filterJSON), &s.Filter); err != nil {
			return fmt.Errorf("unmarshalling filter for %s: %w", s.Label, err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating subscriptions: %w", err)
	}

	m.mu.Lock()
	m.active = subs
	m.mu.Unlock()

	m.logger.Debug("subscriptions loaded", "count", len(subs))
	return nil
}

// Active returns a copy of the current subscription set.
func (m *Manager) Active() []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSubs(m.active)
}

// Matches reports whether r belongs to the owner and is covered by at least
// one active subscription.
func (m *Manager) Matches(r store.Record) bool {
	m.mu.Lock()
	subs := m.active
	m.mu.Unlock()
	return matchesAny(m.owner, subs, r)
}

// Update changes the active set and applies it in the background.
// The returned Pending completes once the Applier and eviction finish.
func (m *Manager) Update(ctx context.Context, mode Mode, subs ...Subscription) *Pending {
	if err := validateAll(subs); err != nil {
		return completedPending(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var next []Subscription
	if mode == Augment {
		next = augment(m.active, subs)
	} else {
		next = cloneSubs(subs)
	}

	if err := m.persist(ctx, next); err != nil {
		return completedPending(err)
	}

	m.version++
	if m.pending != nil {
		m.pending.complete(ErrSuperseded)
	}
	p := newPending(m.version)
	m.pending = p
	m.active = next

	m.logger.Info("subscriptions updated",
		"mode", mode.String(),
		"count", len(next),
		"version", p.version,
	)

	m.wg.Add(1)
	go m.apply(context.WithoutCancel(ctx), p, m.applier, cloneSubs(next))

	return p
}

// RemoveAll clears the subscription set. Once it completes, previously
// mirrored records without local changes are evicted.
func (m *Manager) RemoveAll(ctx context.Context) *Pending {
	return m.Update(ctx, Replace)
}

// Wait blocks until every background apply started so far has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// apply runs one update. Superseded updates skip both the Applier and
// eviction.
func (m *Manager) apply(ctx context.Context, p *Pending, applier Applier, subs []Subscription) {
	defer m.wg.Done()

	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if m.superseded(p) {
		return
	}

	if applier != nil {
		if err := applier.ApplySubscriptions(ctx, m.owner, subs); err != nil {
			m.logger.Warn("applying subscriptions failed", "version", p.version, "error", err)
			p.complete(fmt.Errorf("applying subscriptions: %w", err))
			return
		}
	}

	if m.superseded(p) {
		return
	}

	if m.evicter != nil {
		keep := func(r store.Record) bool { return matchesAny(m.owner, subs, r) }
		if _, err := m.evicter.Evict(ctx, keep); err != nil {
			m.logger.Warn("evicting unsubscribed records failed", "version", p.version, "error", err)
			p.complete(fmt.Errorf("evicting records: %w", err))
			return
		}
	}

	m.logger.Debug("subscriptions applied", "version", p.version)
	p.complete(nil)
}

func (m *Manager) superseded(p *Pending) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version != p.version
}

// createdLayout is fixed width so created_at sorts lexicographically.
const createdLayout = "2006-01-02T15:04:05.000000Z"

// persist replaces the stored subscription set.
func (m *Manager) persist(ctx context.Context, subs []Subscription) error {
	now := time.Now().UTC()
	return database.WithTx(ctx, m.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions`); err != nil {
			return fmt.Errorf("clearing subscriptions: %w", err)
		}
		for i, s := range subs {
			filterJSON, err := json.Marshal(s.Filter)
			if err != nil {
				return fmt.Errorf("marshalling filter for %s: %w", s.Label, err)
			}
			// Offset keeps insertion order stable within one update.
			created := now.Add(time.Duration(i) * time.Microsecond).Format(createdLayout)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO subscriptions (label, record_type, filter, created_at) VALUES (?, ?, ?, ?)`,
				s.Label, string(s.Type), string(filterJSON), created,
			); err != nil {
				return fmt.Errorf("inserting subscription %s: %w", s.Label, err)
			}
		}
		return nil
	})
}

func validateAll(subs []Subscription) error {
	seen := make(map[string]struct{}, len(subs))
	for _, s := range subs {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.Label]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateLabel, s.Label)
		}
		seen[s.Label] = struct{}{}
	}
	return nil
}

// augment merges add into base, replacing entries with matching labels.
func augment(base, add []Subscription) []Subscription {
	out := cloneSubs(base)
	for _, s := range add {
		replaced := false
		for i := range out {
			if out[i].Label == s.Label {
				out[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, s)
		}
	}
	return out
}

func matchesAny(owner string, subs []Subscription, r store.Record) bool {
	if r == nil || r.Owner() != owner {
		return false
	}
	for _, s := range subs {
		if s.Matches(r) {
			return true
		}
	}
	return false
}

func cloneSubs(subs []Subscription) []Subscription {
	if subs == nil {
		return []Subscription{}
	}
	out := make([]Subscription, len(subs))
	copy(out, subs)
	return out
}
