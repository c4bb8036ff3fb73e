package syncengine

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/devicesync/internal/store"
	"github.com/nerrad567/devicesync/internal/subscription"
)

// handleMessage is the transport handler for record topics.
func (e *Engine) handleMessage(topic string, payload []byte) error {
	rt, ok := e.topics.ParseRecord(topic)
	if !ok {
		stats.Inbound(resultSkipped)
		return nil
	}

	e.mu.Lock()
	paused, owner, subs, ctx := e.paused, e.owner, e.subs, e.ctx
	e.mu.Unlock()

	if paused {
		// Retained state is redelivered when Resume re-subscribes.
		stats.Inbound(resultPaused)
		return nil
	}
	if rt.Owner != owner {
		stats.Inbound(resultForeign)
		return nil
	}

	change, result, err := e.decode(rt.Type, rt.ID, payload, subs)
	if err != nil {
		stats.Failed(stageDecode)
		return err
	}
	if result != "" {
		stats.Inbound(result)
		return nil
	}

	res, err := e.store.ApplyRemote(ctx, []store.RemoteChange{change})
	if err != nil {
		stats.Failed(stageApply)
		return fmt.Errorf("applying %s %s: %w", change.Type, change.ID, err)
	}

	if res.Adopted > 0 {
		e.logger.Debug("parked components adopted", "device_id", change.ID, "count", res.Adopted)
	}
	switch {
	case res.Applied > 0:
		stats.Inbound(resultApplied)
	case res.Parked > 0:
		stats.Inbound(resultParked)
	case res.Stale > 0:
		stats.Inbound(resultStale)
	default:
		stats.Inbound(resultSkipped)
	}
	return nil
}

// decode turns a message into a RemoteChange. A non-empty result means the
// message is dropped for that reason.
func (e *Engine) decode(typ, id string, payload []byte, subs []subscription.Subscription) (store.RemoteChange, string, error) {
	change := store.RemoteChange{Type: store.RecordType(typ), ID: id}
	if !change.Type.Valid() || change.Type.Asymmetric() {
		return change, resultSkipped, nil
	}

	// An empty retained payload is a delete.
	if len(payload) == 0 {
		change.Deleted = true
		return change, "", nil
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return change, "", fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if env.Type != change.Type || env.ID != id {
		return change, "", fmt.Errorf("%w: envelope %s/%s on topic for %s/%s",
			ErrInvalidEnvelope, env.Type, env.ID, typ, id)
	}
	if env.Origin == e.cfg.ClientID {
		return change, resultEcho, nil
	}
	if env.Op == store.OpDelete {
		change.Deleted = true
		return change, "", nil
	}

	rec, err := decodeRecord(change.Type, env.Payload)
	if err != nil {
		return change, "", err
	}
	if !subscribed(subs, rec) {
		return change, resultUnsubscribed, nil
	}

	change.Payload = env.Payload
	return change, "", nil
}

func decodeRecord(t store.RecordType, payload json.RawMessage) (store.Record, error) {
	var rec store.Record
	switch t {
	case store.TypeDevice:
		rec = &store.Device{}
	case store.TypeComponent:
		rec = &store.Component{}
	default:
		return nil, fmt.Errorf("%w: unsupported type %s", ErrInvalidEnvelope, t)
	}
	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	return rec, nil
}

func subscribed(subs []subscription.Subscription, r store.Record) bool {
	for _, s := range subs {
		if s.Matches(r) {
			return true
		}
	}
	return false
}
