package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/devicesync/internal/store"
)

// Reading upload paths, used as metric labels.
const (
	pathSink   = "sink"
	pathIngest = "ingest"
)

// Upload runs one upload cycle: outbox entries first, then sensor readings.
// It does nothing while paused. Transport failures stop the affected path
// for this cycle and are logged; only store failures are returned.
func (e *Engine) Upload(ctx context.Context) error {
	e.uploadMu.Lock()
	defer e.uploadMu.Unlock()

	if e.Paused() {
		return nil
	}

	if err := e.uploadChanges(ctx); err != nil {
		return err
	}
	return e.uploadReadings(ctx)
}

// uploadChanges publishes outbox entries in commit order and acknowledges
// the prefix that was published.
func (e *Engine) uploadChanges(ctx context.Context) error {
	if !e.transport.IsConnected() {
		return nil
	}

	changes, err := e.store.PendingChanges(ctx, e.cfg.BatchSize)
	if err != nil {
		stats.Failed(stageStore)
		return fmt.Errorf("loading outbox: %w", err)
	}
	if len(changes) == 0 {
		return nil
	}

	acked := make([]int64, 0, len(changes))
	for _, ch := range changes {
		if err := e.publishChange(ch); err != nil {
			stats.Failed(stagePublish)
			e.logger.Warn("publishing change failed",
				"type", ch.Type,
				"id", ch.ID,
				"seq", ch.Seq,
				"error", err,
			)
			break
		}
		stats.Uploaded(ch.Type, ch.Op)
		acked = append(acked, ch.Seq)
	}

	if err := e.store.AckChanges(ctx, acked); err != nil {
		stats.Failed(stageStore)
		return fmt.Errorf("acknowledging outbox: %w", err)
	}
	if len(acked) > 0 {
		e.logger.Debug("changes uploaded", "count", len(acked), "pending", len(changes)-len(acked))
	}
	return nil
}

// publishChange publishes one outbox entry to its record topic. Upserts
// carry an envelope; deletes clear the retained message.
func (e *Engine) publishChange(ch store.PendingChange) error {
	topic := e.topics.Record(ch.OwnerID, string(ch.Type), ch.ID)

	var payload []byte
	if ch.Op == store.OpUpsert {
		var err error
		payload, err = json.Marshal(Envelope{
			Origin:  e.cfg.ClientID,
			Type:    ch.Type,
			ID:      ch.ID,
			Op:      ch.Op,
			Seq:     ch.Seq,
			SentAt:  time.Now().UTC(),
			Payload: ch.Payload,
		})
		if err != nil {
			return fmt.Errorf("encoding envelope: %w", err)
		}
	}

	if err := e.transport.Publish(topic, payload, e.cfg.QoS, true); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// uploadReadings drains the asymmetric reading queue to the sink, or to the
// ingest topic when no sink is configured.
func (e *Engine) uploadReadings(ctx context.Context) error {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()

	if sink == nil && !e.transport.IsConnected() {
		return nil
	}

	readings, err := e.store.PendingReadings(ctx, e.cfg.BatchSize)
	if err != nil {
		stats.Failed(stageStore)
		return fmt.Errorf("loading readings: %w", err)
	}
	if len(readings) == 0 {
		return nil
	}

	var acked []string
	path := pathIngest
	if sink != nil {
		path = pathSink
		if err := sink.WriteReadings(ctx, readings); err != nil {
			stats.Failed(stageSink)
			e.logger.Warn("writing readings to sink failed", "count", len(readings), "error", err)
			return nil
		}
		for _, r := range readings {
			acked = append(acked, r.ID)
		}
	} else {
		acked = e.publishReadings(readings)
	}

	if err := e.store.AckReadings(ctx, acked); err != nil {
		stats.Failed(stageStore)
		return fmt.Errorf("acknowledging readings: %w", err)
	}
	stats.UploadedReadings(path, len(acked))
	return nil
}

// publishReadings publishes readings to the ingest topic in order and returns
// the ids that were published.
func (e *Engine) publishReadings(readings []store.SensorReading) []string {
	acked := make([]string, 0, len(readings))
	for _, r := range readings {
		payload, err := json.Marshal(readingMessage{
			Origin:    e.cfg.ClientID,
			ID:        r.ID,
			OwnerID:   r.OwnerID,
			Value1:    r.Value1,
			Value2:    r.Value2,
			Timestamp: r.Timestamp,
		})
		if err != nil {
			e.logger.Error("encoding reading failed", "id", r.ID, "error", err)
			break
		}
		topic := e.topics.Ingest(r.OwnerID, string(store.TypeSensorReading))
		if err := e.transport.Publish(topic, payload, e.cfg.QoS, false); err != nil {
			stats.Failed(stagePublish)
			e.logger.Warn("publishing reading failed", "id", r.ID, "error", err)
			break
		}
		acked = append(acked, r.ID)
	}
	return acked
}
