package syncengine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/devicesync/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicesync/internal/store"
)

// State is the externally visible sync state.
type State string

// Sync states.
const (
	StateConnected    State = "connected"
	StatePaused       State = "paused"
	StateDisconnected State = "disconnected"
)

// Transport is the message bus the engine syncs over. *mqtt.Client
// satisfies it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Sink receives sensor readings on the asymmetric upload path. A nil error
// means the readings are durable and may be dropped locally.
type Sink interface {
	WriteReadings(ctx context.Context, readings []store.SensorReading) error
}

// LocalStore is the part of *store.Store the engine needs.
type LocalStore interface {
	PendingChanges(ctx context.Context, limit int) ([]store.PendingChange, error)
	AckChanges(ctx context.Context, seqs []int64) error
	PendingReadings(ctx context.Context, limit int) ([]store.SensorReading, error)
	AckReadings(ctx context.Context, ids []string) error
	ApplyRemote(ctx context.Context, changes []store.RemoteChange) (store.ApplyResult, error)
}

// Config controls an Engine.
type Config struct {
	// ClientID is stamped on every envelope so echoes can be recognised.
	ClientID string

	// QoS is used for every publish and subscribe.
	QoS byte

	// UploadInterval is how often the outbox is drained when nothing kicks
	// the engine earlier.
	UploadInterval time.Duration

	// BatchSize caps the entries uploaded per cycle and path.
	BatchSize int
}

// Default engine settings.
const (
	defaultUploadInterval = time.Second
	defaultBatchSize      = 100
)

// Envelope is the wire form of a record on its retained topic.
type Envelope struct {
	Origin  string           `json:"origin"`
	Type    store.RecordType `json:"type"`
	ID      string           `json:"id"`
	Op      store.ChangeOp   `json:"op"`
	Seq     int64            `json:"seq"`
	SentAt  time.Time        `json:"sent_at"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// readingMessage is the wire form of a reading on the ingest topic.
type readingMessage struct {
	Origin    string    `json:"origin"`
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Value1    float64   `json:"value_1"`
	Value2    float64   `json:"value_2"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger defines the logging interface used by the Engine.
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
