package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/devicesync/internal/infrastructure/database"
	"github.com/nerrad567/devicesync/internal/notify"
)

// Logger defines the logging interface used by the Store.
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

// Notifier receives the events of each commit. Enqueue is called in commit
// order while the write lock is held; Flush is called after it is released.
type Notifier interface {
	Enqueue(events []notify.Event)
	Flush()
}

// noopNotifier discards events.
type noopNotifier struct{}

func (noopNotifier) Enqueue([]notify.Event) {}
func (noopNotifier) Flush()                 {}

// Store is the local transactional record store.
//
// Writes are serialised: Write holds a mutex for the duration of its SQL
// transaction. Reads go straight to the database; with a single pooled
// connection they wait for any open write transaction, so a reader never
// observes a partially applied write.
//
// All public methods are thread-safe.
type Store struct {
	db       *sql.DB
	mu       sync.Mutex // Serialises writers
	notifier Notifier
	logger   Logger
	now      func() time.Time
}

// New creates a Store over an open, migrated database.
// A nil notifier discards change events.
func New(db *sql.DB, notifier Notifier) *Store {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Store{
		db:       db,
		notifier: notifier,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Write runs fn inside a transaction. If fn returns an error the
// transaction is rolled back and no events are emitted. After a successful
// commit the transaction's events are queued in commit order and delivered.
func (s *Store) Write(ctx context.Context, fn func(*Txn) error) error {
	return s.write(ctx, false, fn)
}

// write is Write with control over outbox recording. Remote applies and
// evictions pass remote=true so they are not uploaded again.
func (s *Store) write(ctx context.Context, remote bool, fn func(*Txn) error) error {
	if err := s.commit(ctx, remote, fn); err != nil {
		return err
	}
	s.notifier.Flush()
	return nil
}

// commit runs fn in a transaction under the write lock and queues its
// events once committed.
func (s *Store) commit(ctx context.Context, remote bool, fn func(*Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := &Txn{
		ctx:    ctx,
		store:  s,
		remote: remote,
		now:    s.now().UTC(),
	}
	defer txn.close()

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		txn.tx = tx
		return fn(txn)
	})
	if err != nil {
		return err
	}

	if len(txn.events) > 0 {
		s.notifier.Enqueue(txn.events)
	}
	return nil
}

// Query returns a snapshot of the records of type t matching f.
// Querying an asymmetric type returns ErrAsymmetric.
func (s *Store) Query(ctx context.Context, t RecordType, f Filter) ([]Record, error) {
	return queryRecords(ctx, s.db, t, f)
}

// Devices returns the devices matching f, oldest first.
func (s *Store) Devices(ctx context.Context, f Filter) ([]Device, error) {
	return queryDevices(ctx, s.db, f)
}

// Device returns one device by id, or ErrNotFound.
func (s *Store) Device(ctx context.Context, id string) (*Device, error) {
	return getDevice(ctx, s.db, id)
}

// Components returns the components matching f, oldest first.
func (s *Store) Components(ctx context.Context, f Filter) ([]Component, error) {
	return queryComponents(ctx, s.db, f)
}

// DeleteAll removes every device and component.
func (s *Store) DeleteAll(ctx context.Context) error {
	return s.Write(ctx, func(txn *Txn) error {
		return txn.DeleteAll()
	})
}

// Stats summarises store contents.
type Stats struct {
	Devices         int `json:"devices"`
	Components      int `json:"components"`
	PendingChanges  int `json:"pending_changes"`
	PendingReadings int `json:"pending_readings"`
}

// Stats returns row counts for the store's tables.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM devices),
			(SELECT COUNT(*) FROM components),
			(SELECT COUNT(*) FROM pending_changes),
			(SELECT COUNT(*) FROM sensor_readings)`,
	).Scan(&st.Devices, &st.Components, &st.PendingChanges, &st.PendingReadings)
	if err != nil {
		return Stats{}, fmt.Errorf("querying store stats: %w", err)
	}
	return st, nil
}
