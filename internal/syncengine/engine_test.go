package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/devicesync/internal/infrastructure/database"
	"github.com/nerrad567/devicesync/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicesync/internal/notify"
	"github.com/nerrad567/devicesync/internal/store"
	"github.com/nerrad567/devicesync/internal/subscription"
	_ "github.com/nerrad567/devicesync/migrations"
)

const (
	testOwner    = "owner-1"
	testClientID = "edge-test"
)

var testTopics = mqtt.Topics{Prefix: "devicesync"}

// published is one Publish call seen by fakeTransport.
type published struct {
	Topic    string
	Payload  string
	Retained bool
}

// fakeTransport is an in-memory Transport.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]mqtt.MessageHandler
	published []published
	// retained holds the last retained payload per record topic, replayed
	// to matching subscriptions like a broker would.
	retained map[string][]byte
	// failAfter makes every publish after the first failAfter fail (-1: never).
	failAfter int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
		retained:  make(map[string][]byte),
		failAfter: -1,
	}
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	if f.failAfter >= 0 && len(f.published) >= f.failAfter {
		return mqtt.ErrPublishFailed
	}
	f.published = append(f.published, published{Topic: topic, Payload: string(payload), Retained: retained})
	if retained {
		f.storeRetained(topic, payload)
	}
	return nil
}

// Subscribe registers handler and replays the retained messages under
// topic. Replay order follows map iteration, as with a real broker.
func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	f.handlers[topic] = handler
	var replay []published
	for t, payload := range f.retained {
		if rt, ok := testTopics.ParseRecord(t); ok && testTopics.Collection(rt.Owner, rt.Type) == topic {
			replay = append(replay, published{Topic: t, Payload: string(payload)})
		}
	}
	f.mu.Unlock()

	for _, m := range replay {
		handler(m.Topic, []byte(m.Payload)) //nolint:errcheck // The broker ignores handler errors
	}
	return nil
}

// retain stores a retained message as if another client had published it.
func (f *fakeTransport) retain(topic string, payload []byte) {
	f.mu.Lock()
	f.storeRetained(topic, payload)
	f.mu.Unlock()
}

func (f *fakeTransport) storeRetained(topic string, payload []byte) {
	if len(payload) == 0 {
		delete(f.retained, topic)
		return
	}
	f.retained[topic] = append([]byte(nil), payload...)
}

func (f *fakeTransport) retainedEnvelope(t *testing.T, topic string) Envelope {
	t.Helper()
	f.mu.Lock()
	payload := f.retained[topic]
	f.mu.Unlock()
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("retained payload on %s: %v", topic, err)
	}
	return env
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeTransport) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for topic := range f.handlers {
		out = append(out, topic)
	}
	slices.Sort(out)
	return out
}

func (f *fakeTransport) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

// deliver routes a message to the handler subscribed to the topic's
// collection, as the broker would.
func (f *fakeTransport) deliver(t *testing.T, topic string, payload []byte) error {
	t.Helper()
	rt, ok := testTopics.ParseRecord(topic)
	if !ok {
		t.Fatalf("deliver: %q is not a record topic", topic)
	}
	f.mu.Lock()
	h := f.handlers[testTopics.Collection(rt.Owner, rt.Type)]
	f.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(topic, payload)
}

// fakeSink records readings and can fail.
type fakeSink struct {
	mu       sync.Mutex
	readings []store.SensorReading
	err      error
}

func (s *fakeSink) WriteReadings(_ context.Context, readings []store.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.readings = append(s.readings, readings...)
	return nil
}

type harness struct {
	store     *store.Store
	transport *fakeTransport
	engine    *Engine
}

func setup(t *testing.T) *harness {
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

	st := store.New(db.DB, notify.New())
	tr := newFakeTransport()
	eng := New(st, tr, testTopics, Config{
		ClientID:       testClientID,
		QoS:            1,
		UploadInterval: 10 * time.Millisecond,
		BatchSize:      50,
	})
	t.Cleanup(eng.Stop)

	return &harness{store: st, transport: tr, engine: eng}
}

func defaultSubs() []subscription.Subscription {
	return []subscription.Subscription{
		{Label: "device-filter", Type: store.TypeDevice, Filter: store.Eq("owner_id", testOwner)},
		{Label: "component-filter", Type: store.TypeComponent, Filter: store.Eq("owner_id", testOwner)},
	}
}

func (h *harness) subscribe(t *testing.T, subs []subscription.Subscription) {
	t.Helper()
	if err := h.engine.ApplySubscriptions(context.Background(), testOwner, subs); err != nil {
		t.Fatalf("ApplySubscriptions() error = %v", err)
	}
}

func (h *harness) createDevice(t *testing.T, name string) *store.Device {
	t.Helper()
	var d *store.Device
	err := h.store.Write(context.Background(), func(txn *store.Txn) error {
		var err error
		d, err = txn.CreateDevice(testOwner, name)
		return err
	})
	if err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	return d
}

func (h *harness) pending(t *testing.T) []store.PendingChange {
	t.Helper()
	changes, err := h.store.PendingChanges(context.Background(), 0)
	if err != nil {
		t.Fatalf("PendingChanges() error = %v", err)
	}
	return changes
}

func (h *harness) upload(t *testing.T) {
	t.Helper()
	if err := h.engine.Upload(context.Background()); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
}

// remoteEnvelope builds an envelope from another client.
func remoteEnvelope(t *testing.T, origin string, rec store.Record) []byte {
	t.Helper()
	payload, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	data, err := json.Marshal(Envelope{
		Origin:  origin,
		Type:    rec.Type(),
		ID:      rec.Key(),
		Op:      store.OpUpsert,
		SentAt:  time.Now().UTC(),
		Payload: payload,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func remoteDevice(owner, name string, isOn bool) *store.Device {
	now := time.Now().UTC()
	return &store.Device{
		ID:        store.GenerateID(),
		Name:      name,
		IsOn:      isOn,
		OwnerID:   owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// =============================================================================
// Subscription Tests
// =============================================================================

func TestApplySubscriptions_Topics(t *testing.T) {
	h := setup(t)

	h.subscribe(t, defaultSubs())
	want := []string{
		"devicesync/owner-1/Component/+",
		"devicesync/owner-1/Device/+",
	}
	if diff := cmp.Diff(want, h.transport.topics()); diff != "" {
		t.Errorf("transport topics mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, h.engine.SubscribedTopics()); diff != "" {
		t.Errorf("SubscribedTopics() mismatch (-want +got):\n%s", diff)
	}

	// Two subscriptions on one type share a topic; dropping components
	// unsubscribes its topic.
	h.subscribe(t, []subscription.Subscription{
		{Label: "on", Type: store.TypeDevice, Filter: store.Eq("is_on", true)},
		{Label: "named", Type: store.TypeDevice, Filter: store.Eq("name", "lamp")},
	})
	want = []string{"devicesync/owner-1/Device/+"}
	if diff := cmp.Diff(want, h.transport.topics()); diff != "" {
		t.Errorf("transport topics after replace mismatch (-want +got):\n%s", diff)
	}

	h.subscribe(t, nil)
	if got := h.transport.topics(); len(got) != 0 {
		t.Errorf("transport topics after clear = %v, want none", got)
	}
}

func TestApplySubscriptions_InvalidOwner(t *testing.T) {
	h := setup(t)

	err := h.engine.ApplySubscriptions(context.Background(), "owner/1", defaultSubs())
	if !errors.Is(err, ErrTransport) {
		t.Errorf("ApplySubscriptions() error = %v, want ErrTransport", err)
	}
}

// =============================================================================
// Upload Tests
// =============================================================================

func TestUpload_PublishesOutboxInCommitOrder(t *testing.T) {
	h := setup(t)
	d := h.createDevice(t, "Thermostat")

	var c *store.Component
	err := h.store.Write(context.Background(), func(txn *store.Txn) error {
		var err error
		c, err = txn.AddComponent(d.ID, testOwner, "Relay")
		return err
	})
	if err != nil {
		t.Fatalf("AddComponent() error = %v", err)
	}

	h.upload(t)

	sent := h.transport.sent()
	wantTopics := []string{
		testTopics.Record(testOwner, "Device", d.ID),
		testTopics.Record(testOwner, "Component", c.ID),
		testTopics.Record(testOwner, "Device", d.ID),
	}
	var gotTopics []string
	for _, p := range sent {
		gotTopics = append(gotTopics, p.Topic)
		if !p.Retained {
			t.Errorf("publish to %s not retained", p.Topic)
		}
	}
	if diff := cmp.Diff(wantTopics, gotTopics); diff != "" {
		t.Fatalf("published topics mismatch (-want +got):\n%s", diff)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(sent[0].Payload), &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if env.Origin != testClientID || env.Type != store.TypeDevice || env.ID != d.ID || env.Op != store.OpUpsert {
		t.Errorf("envelope = %+v", env)
	}
	var uploaded store.Device
	if err := json.Unmarshal(env.Payload, &uploaded); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if uploaded.Name != "Thermostat" || uploaded.OwnerID != testOwner {
		t.Errorf("uploaded device = %+v", uploaded)
	}

	if got := h.pending(t); len(got) != 0 {
		t.Errorf("outbox after upload has %d entries, want 0", len(got))
	}
}

func TestUpload_DeleteClearsRetained(t *testing.T) {
	h := setup(t)
	d := h.createDevice(t, "Lamp")
	h.upload(t)

	err := h.store.Write(context.Background(), func(txn *store.Txn) error {
		return txn.DeleteDevice(d.ID)
	})
	if err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}
	h.upload(t)

	sent := h.transport.sent()
	last := sent[len(sent)-1]
	if last.Topic != testTopics.Record(testOwner, "Device", d.ID) || last.Payload != "" || !last.Retained {
		t.Errorf("delete publish = %+v, want empty retained payload on record topic", last)
	}
}

func TestUpload_PublishFailureKeepsRemainder(t *testing.T) {
	h := setup(t)
	h.createDevice(t, "A")
	h.createDevice(t, "B")
	h.createDevice(t, "C")

	before := testutil.ToFloat64(stats.errors.WithLabelValues(stagePublish))
	h.transport.mu.Lock()
	h.transport.failAfter = 1
	h.transport.mu.Unlock()
	h.upload(t)

	if got := len(h.transport.sent()); got != 1 {
		t.Errorf("published %d, want 1", got)
	}
	pending := h.pending(t)
	if len(pending) != 2 {
		t.Fatalf("outbox has %d entries, want 2", len(pending))
	}
	if after := testutil.ToFloat64(stats.errors.WithLabelValues(stagePublish)); after != before+1 {
		t.Errorf("publish errors = %v, want %v", after, before+1)
	}

	h.transport.mu.Lock()
	h.transport.failAfter = -1
	h.transport.mu.Unlock()
	h.upload(t)

	if got := h.pending(t); len(got) != 0 {
		t.Errorf("outbox after retry has %d entries, want 0", len(got))
	}
	if got := len(h.transport.sent()); got != 3 {
		t.Errorf("published %d in total, want 3", got)
	}
}

func TestUpload_NewerRemoteSupersedesQueuedChange(t *testing.T) {
	h := setup(t)
	h.subscribe(t, defaultSubs())
	ctx := context.Background()

	d := h.createDevice(t, "original")
	h.upload(t)

	if err := h.store.Write(ctx, func(txn *store.Txn) error {
		_, err := txn.UpdateDevice(d.ID, store.Fields{"name": "local"})
		return err
	}); err != nil {
		t.Fatalf("UpdateDevice() error = %v", err)
	}
	local, err := h.store.Device(ctx, d.ID)
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}

	remote := local.DeepCopy()
	remote.Name = "remote"
	remote.UpdatedAt = local.UpdatedAt.Add(time.Minute)
	topic := testTopics.Record(testOwner, "Device", d.ID)
	env := remoteEnvelope(t, "edge-other", remote)
	h.transport.retain(topic, env)
	if err := h.transport.deliver(t, topic, env); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}

	sentBefore := len(h.transport.sent())
	h.upload(t)

	if got := len(h.transport.sent()) - sentBefore; got != 0 {
		t.Errorf("upload published %d superseded changes, want 0", got)
	}
	if got := h.transport.retainedEnvelope(t, topic); got.Origin != "edge-other" {
		t.Errorf("retained envelope origin = %q, want the newer remote write", got.Origin)
	}
	if got, _ := h.store.Device(ctx, d.ID); got.Name != "remote" {
		t.Errorf("local Name = %q, want remote", got.Name)
	}
}

func TestUpload_DisconnectedKeepsOutbox(t *testing.T) {
	h := setup(t)
	h.createDevice(t, "Lamp")
	h.transport.setConnected(false)

	h.upload(t)

	if got := len(h.pending(t)); got != 1 {
		t.Errorf("outbox has %d entries, want 1", got)
	}
	if h.engine.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", h.engine.State())
	}
}

func appendReadings(t *testing.T, s *store.Store, values ...float64) {
	t.Helper()
	err := s.Write(context.Background(), func(txn *store.Txn) error {
		for _, v := range values {
			if _, err := txn.AppendReading(testOwner, v, v*2); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AppendReading() error = %v", err)
	}
}

func TestUpload_ReadingsToSink(t *testing.T) {
	h := setup(t)
	sink := &fakeSink{}
	h.engine.SetSink(sink)
	appendReadings(t, h.store, 1, 2)

	// The sink path does not depend on the MQTT connection.
	h.transport.setConnected(false)
	h.upload(t)

	if len(sink.readings) != 2 || sink.readings[0].Value1 != 1 || sink.readings[1].Value2 != 4 {
		t.Errorf("sink readings = %+v", sink.readings)
	}
	left, err := h.store.PendingReadings(context.Background(), 0)
	if err != nil {
		t.Fatalf("PendingReadings() error = %v", err)
	}
	if len(left) != 0 {
		t.Errorf("readings left = %d, want 0", len(left))
	}
}

func TestUpload_SinkFailureKeepsReadings(t *testing.T) {
	h := setup(t)
	h.engine.SetSink(&fakeSink{err: errors.New("influx down")})
	appendReadings(t, h.store, 1)

	h.upload(t)

	left, err := h.store.PendingReadings(context.Background(), 0)
	if err != nil {
		t.Fatalf("PendingReadings() error = %v", err)
	}
	if len(left) != 1 {
		t.Errorf("readings left = %d, want 1", len(left))
	}
}

func TestUpload_ReadingsToIngestTopic(t *testing.T) {
	h := setup(t)
	appendReadings(t, h.store, 3.5)

	h.upload(t)

	var ingest []published
	for _, p := range h.transport.sent() {
		if p.Topic == testTopics.Ingest(testOwner, "SensorReading") {
			ingest = append(ingest, p)
		}
	}
	if len(ingest) != 1 {
		t.Fatalf("ingest publishes = %d, want 1", len(ingest))
	}
	if ingest[0].Retained {
		t.Error("ingest publish retained, want not retained")
	}
	var msg readingMessage
	if err := json.Unmarshal([]byte(ingest[0].Payload), &msg); err != nil {
		t.Fatalf("decoding reading: %v", err)
	}
	if msg.Value1 != 3.5 || msg.Value2 != 7 || msg.OwnerID != testOwner || msg.Origin != testClientID {
		t.Errorf("reading message = %+v", msg)
	}
}

// =============================================================================
// Inbound Tests
// =============================================================================

func TestInbound_AppliesRemoteRecords(t *testing.T) {
	h := setup(t)
	h.subscribe(t, defaultSubs())

	d := remoteDevice(testOwner, "Remote lamp", true)
	topic := testTopics.Record(testOwner, "Device", d.ID)
	if err := h.transport.deliver(t, topic, remoteEnvelope(t, "edge-other", d)); err != nil {
		t.Fatalf("deliver device error = %v", err)
	}

	got, err := h.store.Device(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if got.Name != "Remote lamp" || !got.IsOn {
		t.Errorf("device = %+v", got)
	}

	c := &store.Component{
		ID:        store.GenerateID(),
		Name:      "Remote relay",
		OwnerID:   testOwner,
		DeviceID:  d.ID,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	topic = testTopics.Record(testOwner, "Component", c.ID)
	if err := h.transport.deliver(t, topic, remoteEnvelope(t, "edge-other", c)); err != nil {
		t.Fatalf("deliver component error = %v", err)
	}

	comps, err := h.store.Components(context.Background(), store.Eq("device_id", d.ID))
	if err != nil {
		t.Fatalf("Components() error = %v", err)
	}
	if len(comps) != 1 || comps[0].Name != "Remote relay" {
		t.Errorf("components = %+v", comps)
	}

	// Remote changes are never echoed back through the outbox.
	if got := h.pending(t); len(got) != 0 {
		t.Errorf("outbox after remote apply has %d entries, want 0", len(got))
	}
}

func TestInbound_RetainedComponentsBeforeDevice(t *testing.T) {
	h := setup(t)

	d := remoteDevice(testOwner, "Gateway", true)
	var want []string
	for i, name := range []string{"Relay", "Dimmer"} {
		c := &store.Component{
			ID:        store.GenerateID(),
			Name:      name,
			OwnerID:   testOwner,
			DeviceID:  d.ID,
			Position:  i,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		}
		h.transport.retain(testTopics.Record(testOwner, "Component", c.ID), remoteEnvelope(t, "edge-other", c))
		want = append(want, name)
	}
	h.transport.retain(testTopics.Record(testOwner, "Device", d.ID), remoteEnvelope(t, "edge-other", d))

	// Component topics sort first, so their retained messages arrive
	// before the device exists.
	h.subscribe(t, defaultSubs())

	got, err := h.store.Device(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	var names []string
	for _, c := range got.Components {
		names = append(names, c.Name)
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("components after initial sync mismatch (-want +got):\n%s", diff)
	}

	// Pause and resume redeliver everything; nothing is duplicated.
	h.engine.Pause()
	if err := h.engine.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	comps, err := h.store.Components(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("Components() error = %v", err)
	}
	if len(comps) != len(want) {
		t.Errorf("Components() after resume = %d, want %d", len(comps), len(want))
	}
}

func TestInbound_Dropped(t *testing.T) {
	h := setup(t)
	h.subscribe(t, []subscription.Subscription{
		{Label: "on-only", Type: store.TypeDevice, Filter: store.Eq("is_on", true)},
	})

	tests := []struct {
		name   string
		device *store.Device
		origin string
		result string
	}{
		{"own echo", remoteDevice(testOwner, "Echo", true), testClientID, resultEcho},
		{"outside subscription", remoteDevice(testOwner, "Off", false), "edge-other", resultUnsubscribed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(stats.inbound.WithLabelValues(tt.result))
			topic := testTopics.Record(testOwner, "Device", tt.device.ID)
			if err := h.transport.deliver(t, topic, remoteEnvelope(t, tt.origin, tt.device)); err != nil {
				t.Fatalf("deliver error = %v", err)
			}
			if _, err := h.store.Device(context.Background(), tt.device.ID); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("Device() error = %v, want ErrNotFound", err)
			}
			if after := testutil.ToFloat64(stats.inbound.WithLabelValues(tt.result)); after != before+1 {
				t.Errorf("inbound{%s} = %v, want %v", tt.result, after, before+1)
			}
		})
	}
}

func TestInbound_ForeignOwner(t *testing.T) {
	h := setup(t)
	h.subscribe(t, defaultSubs())

	d := remoteDevice("owner-2", "Neighbour", true)
	// Delivered directly: the broker would never route it to this client.
	err := h.engine.handleMessage(testTopics.Record("owner-2", "Device", d.ID), remoteEnvelope(t, "edge-other", d))
	if err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}
	if _, err := h.store.Device(context.Background(), d.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("foreign device stored, Device() error = %v", err)
	}
}

func TestInbound_InvalidEnvelope(t *testing.T) {
	h := setup(t)
	h.subscribe(t, defaultSubs())

	id := store.GenerateID()
	topic := testTopics.Record(testOwner, "Device", id)

	if err := h.transport.deliver(t, topic, []byte("not json")); !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("garbage payload error = %v, want ErrInvalidEnvelope", err)
	}

	d := remoteDevice(testOwner, "Mismatch", true)
	if err := h.transport.deliver(t, topic, remoteEnvelope(t, "edge-other", d)); !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("mismatched id error = %v, want ErrInvalidEnvelope", err)
	}
}

func TestInbound_EmptyPayloadDeletes(t *testing.T) {
	h := setup(t)
	h.subscribe(t, defaultSubs())

	d := remoteDevice(testOwner, "Doomed", true)
	topic := testTopics.Record(testOwner, "Device", d.ID)
	if err := h.transport.deliver(t, topic, remoteEnvelope(t, "edge-other", d)); err != nil {
		t.Fatalf("deliver error = %v", err)
	}
	if err := h.transport.deliver(t, topic, nil); err != nil {
		t.Fatalf("deliver delete error = %v", err)
	}

	if _, err := h.store.Device(context.Background(), d.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Device() after remote delete error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// Session Control Tests
// =============================================================================

func TestPauseResume(t *testing.T) {
	h := setup(t)
	h.subscribe(t, defaultSubs())

	if h.engine.State() != StateConnected {
		t.Fatalf("State() = %s, want connected", h.engine.State())
	}

	h.engine.Pause()
	h.engine.Pause()
	if h.engine.State() != StatePaused {
		t.Errorf("State() = %s, want paused", h.engine.State())
	}
	if got := h.transport.topics(); len(got) != 0 {
		t.Errorf("topics while paused = %v, want none", got)
	}

	// The store stays writable; changes queue up.
	h.createDevice(t, "Offline edit")
	h.upload(t)
	if len(h.transport.sent()) != 0 {
		t.Error("published while paused")
	}
	if got := len(h.pending(t)); got != 1 {
		t.Errorf("outbox while paused = %d, want 1", got)
	}

	// Subscription changes while paused are applied on resume.
	h.subscribe(t, defaultSubs()[:1])
	if got := h.transport.topics(); len(got) != 0 {
		t.Errorf("topics after paused update = %v, want none", got)
	}

	if err := h.engine.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if h.engine.State() != StateConnected {
		t.Errorf("State() after Resume = %s, want connected", h.engine.State())
	}
	if diff := cmp.Diff([]string{"devicesync/owner-1/Device/+"}, h.transport.topics()); diff != "" {
		t.Errorf("topics after resume mismatch (-want +got):\n%s", diff)
	}

	h.upload(t)
	if got := len(h.pending(t)); got != 0 {
		t.Errorf("outbox after resume = %d, want 0", got)
	}

	// Resume when not paused is a no-op.
	if err := h.engine.Resume(context.Background()); err != nil {
		t.Errorf("second Resume() error = %v", err)
	}
}

func TestInbound_DroppedWhilePaused(t *testing.T) {
	h := setup(t)
	h.subscribe(t, defaultSubs())
	h.engine.Pause()

	d := remoteDevice(testOwner, "Late", true)
	err := h.engine.handleMessage(testTopics.Record(testOwner, "Device", d.ID), remoteEnvelope(t, "edge-other", d))
	if err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}
	if _, err := h.store.Device(context.Background(), d.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Device() error = %v, want ErrNotFound", err)
	}
}

func TestStartStop(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.engine.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	h.createDevice(t, "Background")
	h.engine.Kick()

	deadline := time.Now().Add(2 * time.Second)
	for len(h.pending(t)) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("upload loop did not drain the outbox within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.engine.Stop()
	h.engine.Stop()

	if err := h.engine.Start(ctx); err != nil {
		t.Errorf("Start() after Stop error = %v", err)
	}
}
