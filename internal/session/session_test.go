package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/devicesync/internal/auth"
	"github.com/nerrad567/devicesync/internal/infrastructure/database"
	"github.com/nerrad567/devicesync/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicesync/internal/notify"
	"github.com/nerrad567/devicesync/internal/store"
	"github.com/nerrad567/devicesync/internal/subscription"
	"github.com/nerrad567/devicesync/internal/syncengine"
	_ "github.com/nerrad567/devicesync/migrations"
)

const (
	testUser     = "field-tech"
	testPassword = "correct horse battery"
	testSecret   = "session-test-secret-at-least-32-chars"
)

var testTopics = mqtt.Topics{Prefix: "devicesync"}

// fakeTransport is an in-memory syncengine.Transport.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]mqtt.MessageHandler
	published []string
}

func newFakeTransport(connected bool) *fakeTransport {
	return &fakeTransport{connected: connected, handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeTransport) Publish(topic string, _ []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	f.published = append(f.published, topic)
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
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

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

type harness struct {
	db        *database.DB
	provider  *auth.Provider
	transport *fakeTransport
}

func newHarness(t *testing.T, connected bool) *harness {
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

	provider := auth.NewProvider(db.DB, auth.Config{Secret: testSecret, TokenTTL: time.Minute})
	if err := provider.Seed(context.Background(), testUser, testPassword); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	return &harness{db: db, provider: provider, transport: newFakeTransport(connected)}
}

func (h *harness) deps() Deps {
	return Deps{
		DB:        h.db.DB,
		Auth:      h.provider,
		Transport: h.transport,
		Topics:    testTopics,
		Engine: syncengine.Config{
			ClientID:       "session-test",
			QoS:            1,
			UploadInterval: time.Hour,
		},
	}
}

func (h *harness) open(t *testing.T) *Session {
	t.Helper()
	s, err := Initialize(context.Background(), h.deps(), Credentials{Username: testUser, Password: testPassword})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() {
		s.Close() //nolint:errcheck // Test cleanup
	})
	if err := s.SubscriptionsReady(context.Background()); err != nil {
		t.Fatalf("SubscriptionsReady() error = %v", err)
	}
	return s
}

// setup opens a session over a disconnected transport, so every local
// change stays in the outbox.
func setup(t *testing.T) *Session {
	t.Helper()
	return newHarness(t, false).open(t)
}

func mustCreate(t *testing.T, s *Session, name string) DeviceRef {
	t.Helper()
	res, err := s.CreateDevice(context.Background(), name)
	if err != nil {
		t.Fatalf("CreateDevice(%q) error = %v", name, err)
	}
	ref, ok := res.Result.(DeviceRef)
	if !ok {
		t.Fatalf("CreateDevice(%q) result = %#v, want DeviceRef", name, res.Result)
	}
	return ref
}

func mustStats(t *testing.T, s *Session) store.Stats {
	t.Helper()
	st, err := s.store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	return st
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// =============================================================================
// Initialize Tests
// =============================================================================

func TestInitialize_AuthFailureIsTerminal(t *testing.T) {
	h := newHarness(t, true)

	s, err := Initialize(context.Background(), h.deps(), Credentials{Username: testUser, Password: "wrong"})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("Initialize() error = %v, want ErrAuth", err)
	}
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Initialize() error = %v, want it to wrap ErrInvalidCredentials", err)
	}
	if s != nil {
		t.Error("Initialize() returned a session on login failure")
	}
	if topics := h.transport.topics(); len(topics) != 0 {
		t.Errorf("subscribed topics after failed login = %v, want none", topics)
	}
}

func TestInitialize_InvalidDeps(t *testing.T) {
	h := newHarness(t, true)

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"no database", func(d *Deps) { d.DB = nil }},
		{"no authenticator", func(d *Deps) { d.Auth = nil }},
		{"no transport", func(d *Deps) { d.Transport = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := h.deps()
			tt.mutate(&deps)
			_, err := Initialize(context.Background(), deps, Credentials{Username: testUser, Password: testPassword})
			if !errors.Is(err, ErrInvalidDeps) {
				t.Errorf("Initialize() error = %v, want ErrInvalidDeps", err)
			}
		})
	}
}

func TestInitialize_InstallsDefaultSubscriptions(t *testing.T) {
	h := newHarness(t, true)
	s := h.open(t)

	subs, err := s.Subscriptions()
	if err != nil {
		t.Fatalf("Subscriptions() error = %v", err)
	}
	if diff := cmp.Diff(DefaultSubscriptions(s.Owner()), subs); diff != "" {
		t.Errorf("Subscriptions() mismatch (-want +got):\n%s", diff)
	}

	want := []string{
		testTopics.Collection(s.Owner(), string(store.TypeComponent)),
		testTopics.Collection(s.Owner(), string(store.TypeDevice)),
	}
	if diff := cmp.Diff(want, h.transport.topics()); diff != "" {
		t.Errorf("subscribed topics mismatch (-want +got):\n%s", diff)
	}
}

func TestInitialize_RestoresPersistedSubscriptions(t *testing.T) {
	h := newHarness(t, true)

	first := h.open(t)
	owner := first.Owner()
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	deps := h.deps()
	deps.SkipDefaultSubscriptions = true
	second, err := Initialize(context.Background(), deps, Credentials{Username: testUser, Password: testPassword})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer second.Close() //nolint:errcheck // Test cleanup

	if second.Owner() != owner {
		t.Errorf("Owner() = %q, want stable %q", second.Owner(), owner)
	}
	if err := second.SubscriptionsReady(context.Background()); err != nil {
		t.Fatalf("SubscriptionsReady() error = %v", err)
	}
	subs, err := second.Subscriptions()
	if err != nil {
		t.Fatalf("Subscriptions() error = %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("restored %d subscriptions, want 2", len(subs))
	}
}

func TestSession_NotReady(t *testing.T) {
	closed := setup(t)
	if err := closed.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ctx := context.Background()
	calls := map[string]func(s *Session) error{
		"Devices":      func(s *Session) error { _, err := s.Devices(ctx); return err },
		"CreateDevice": func(s *Session) error { _, err := s.CreateDevice(ctx, "x"); return err },
		"AddComponent": func(s *Session) error { _, err := s.AddComponent(ctx, "x"); return err },
		"AddSensor":    func(s *Session) error { _, err := s.AddSensor(ctx, "1", "2"); return err },
		"PauseSync":    func(s *Session) error { _, err := s.PauseSync(ctx); return err },
		"ResumeSync":   func(s *Session) error { _, err := s.ResumeSync(ctx); return err },
		"AddObjectChangeListener": func(s *Session) error {
			_, err := s.AddObjectChangeListener(ctx)
			return err
		},
		"RemoveObjectChangeListener": func(s *Session) error {
			_, err := s.RemoveObjectChangeListener(ctx)
			return err
		},
		"AddDevicesChangeListener": func(s *Session) error {
			_, err := s.AddDevicesChangeListener(func(notify.Event) {})
			return err
		},
		"RemoveListener": func(s *Session) error { return s.RemoveListener(1) },
		"Cleanup":        func(s *Session) error { _, err := s.Cleanup(ctx); return err },
		"Status":         func(s *Session) error { _, err := s.Status(ctx); return err },
		"Close":          func(s *Session) error { return s.Close() },
	}

	for name, call := range calls {
		t.Run(name+"/nil", func(t *testing.T) {
			var s *Session
			if err := call(s); !errors.Is(err, ErrSessionNotReady) {
				t.Errorf("error = %v, want ErrSessionNotReady", err)
			}
		})
		t.Run(name+"/closed", func(t *testing.T) {
			if err := call(closed); !errors.Is(err, ErrSessionNotReady) {
				t.Errorf("error = %v, want ErrSessionNotReady", err)
			}
		})
	}
}

// =============================================================================
// Record Operation Tests
// =============================================================================

func TestCreateDevice_NameAndUniqueIdentity(t *testing.T) {
	s := setup(t)

	names := []string{"Thermostat", "Thermostat", "Pump", "Gate"}
	seen := make(map[string]struct{})
	var want []DeviceRef
	for _, name := range names {
		ref := mustCreate(t, s, name)
		if ref.Name != name {
			t.Errorf("created name = %q, want %q", ref.Name, name)
		}
		if _, dup := seen[ref.ID]; dup {
			t.Errorf("duplicate id %s", ref.ID)
		}
		seen[ref.ID] = struct{}{}
		want = append(want, ref)
	}

	got, err := s.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Devices() mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateDevice_FailureIsReported(t *testing.T) {
	s := setup(t)

	res, err := s.CreateDevice(context.Background(), "   ")
	if err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	if res.Message() != msgCreateFailed {
		t.Errorf("CreateDevice() = %q, want %q", res.Message(), msgCreateFailed)
	}
	if st := mustStats(t, s); st.Devices != 0 || st.PendingChanges != 0 {
		t.Errorf("Stats() = %+v, want empty", st)
	}
}

func TestAddComponent_NoDeviceLeavesStoreUnchanged(t *testing.T) {
	s := setup(t)
	before := mustStats(t, s)

	res, err := s.AddComponent(context.Background(), "Relay")
	if err != nil {
		t.Fatalf("AddComponent() error = %v", err)
	}
	if res.Message() != msgComponentNoDevice {
		t.Errorf("AddComponent() = %q, want %q", res.Message(), msgComponentNoDevice)
	}
	if diff := cmp.Diff(before, mustStats(t, s)); diff != "" {
		t.Errorf("store changed (-before +after):\n%s", diff)
	}
}

func TestAddComponent_AttachesToFirstDevice(t *testing.T) {
	s := setup(t)
	first := mustCreate(t, s, "Boiler")
	second := mustCreate(t, s, "Heat pump")
	ctx := context.Background()

	res, err := s.AddComponent(ctx, "Flow sensor")
	if err != nil {
		t.Fatalf("AddComponent() error = %v", err)
	}
	if want := "Component created and related to id: Boiler"; res.Message() != want {
		t.Errorf("AddComponent() = %q, want %q", res.Message(), want)
	}

	d, err := s.Device(ctx, first.ID)
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if len(d.Components) != 1 || d.Components[0].Name != "Flow sensor" {
		t.Errorf("first device components = %+v", d.Components)
	}

	other, err := s.Device(ctx, second.ID)
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if len(other.Components) != 0 {
		t.Errorf("second device components = %+v, want none", other.Components)
	}
}

func TestAddSensor(t *testing.T) {
	s := setup(t)
	mustCreate(t, s, "Meter")
	ctx := context.Background()

	tests := []struct {
		name     string
		v1, v2   string
		want     string
		readings int
	}{
		{"integers", "21", "40", "Sensor measurement {value_1: 21, value_2: 40} inserted!", 1},
		{"decimals and spaces", " 21.5", "-3 ", "Sensor measurement {value_1: 21.5, value_2: -3} inserted!", 2},
		{"not a number", "warm", "40", msgSensorInvalid, 2},
		{"empty", "", "", msgSensorInvalid, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.AddSensor(ctx, tt.v1, tt.v2)
			if err != nil {
				t.Fatalf("AddSensor() error = %v", err)
			}
			if res.Message() != tt.want {
				t.Errorf("AddSensor() = %q, want %q", res.Message(), tt.want)
			}
			if st := mustStats(t, s); st.PendingReadings != tt.readings {
				t.Errorf("pending readings = %d, want %d", st.PendingReadings, tt.readings)
			}
		})
	}
}

func TestAddSensor_TimestampsNonDecreasing(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if _, err := s.AddSensor(ctx, "1", "2"); err != nil {
			t.Fatalf("AddSensor() error = %v", err)
		}
	}

	readings, err := s.store.PendingReadings(ctx, 0)
	if err != nil {
		t.Fatalf("PendingReadings() error = %v", err)
	}
	if len(readings) != 25 {
		t.Fatalf("got %d readings, want 25", len(readings))
	}
	for i := 1; i < len(readings); i++ {
		if readings[i].Timestamp.Before(readings[i-1].Timestamp) {
			t.Errorf("reading %d at %v precedes reading %d at %v",
				i, readings[i].Timestamp, i-1, readings[i-1].Timestamp)
		}
	}
}

func TestCreateDevice_KicksUpload(t *testing.T) {
	h := newHarness(t, true)
	s := h.open(t)

	ref := mustCreate(t, s, "Doorbell")
	want := testTopics.Record(s.Owner(), string(store.TypeDevice), ref.ID)

	waitFor(t, "device upload", func() bool {
		return slices.Contains(h.transport.sent(), want)
	})
	waitFor(t, "outbox drained", func() bool {
		return mustStats(t, s).PendingChanges == 0
	})
}

func TestKick_UploadsAfterReconnect(t *testing.T) {
	h := newHarness(t, false)
	s := h.open(t)

	ref := mustCreate(t, s, "Gateway")
	if got := mustStats(t, s).PendingChanges; got == 0 {
		t.Fatal("PendingChanges = 0 while offline, want queued change")
	}

	h.transport.mu.Lock()
	h.transport.connected = true
	h.transport.mu.Unlock()
	s.Kick()

	want := testTopics.Record(s.Owner(), string(store.TypeDevice), ref.ID)
	waitFor(t, "device upload", func() bool {
		return slices.Contains(h.transport.sent(), want)
	})

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	s.Kick()
}

// =============================================================================
// Sync Control Tests
// =============================================================================

func TestPauseResume_RoundTripKeepsContent(t *testing.T) {
	h := newHarness(t, true)
	s := h.open(t)
	ctx := context.Background()

	mustCreate(t, s, "Lamp")
	if _, err := s.AddComponent(ctx, "Bulb"); err != nil {
		t.Fatalf("AddComponent() error = %v", err)
	}

	snapshot := func() []store.Device {
		d, err := s.store.Devices(ctx, store.Filter{})
		if err != nil {
			t.Fatalf("Devices() error = %v", err)
		}
		return d
	}
	before := snapshot()

	res, err := s.PauseSync(ctx)
	if err != nil || res.Message() != msgSyncPaused {
		t.Fatalf("PauseSync() = %q, %v", res.Message(), err)
	}
	if state, _ := s.SyncState(); state != syncengine.StatePaused {
		t.Errorf("SyncState() = %q, want paused", state)
	}
	if topics := h.transport.topics(); len(topics) != 0 {
		t.Errorf("topics while paused = %v, want none", topics)
	}

	res, err = s.ResumeSync(ctx)
	if err != nil || res.Message() != msgSyncResumed {
		t.Fatalf("ResumeSync() = %q, %v", res.Message(), err)
	}
	if state, _ := s.SyncState(); state != syncengine.StateConnected {
		t.Errorf("SyncState() = %q, want connected", state)
	}
	if len(h.transport.topics()) != 2 {
		t.Errorf("topics after resume = %v, want 2", h.transport.topics())
	}

	if diff := cmp.Diff(before, snapshot()); diff != "" {
		t.Errorf("store content changed across pause/resume (-before +after):\n%s", diff)
	}
}

func TestPauseSync_StoreStaysWritable(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	if _, err := s.PauseSync(ctx); err != nil {
		t.Fatalf("PauseSync() error = %v", err)
	}
	mustCreate(t, s, "Offline device")
	if st := mustStats(t, s); st.Devices != 1 || st.PendingChanges != 1 {
		t.Errorf("Stats() = %+v, want one device and one pending change", st)
	}
}

// =============================================================================
// Listener Tests
// =============================================================================

func TestObjectChangeListener(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	res, err := s.AddObjectChangeListener(ctx)
	if err != nil {
		t.Fatalf("AddObjectChangeListener() error = %v", err)
	}
	if res.Message() != msgListenerNoDevice {
		t.Errorf("AddObjectChangeListener() without devices = %q", res.Message())
	}

	mustCreate(t, s, "Fan")
	for i := 0; i < 2; i++ {
		res, err = s.AddObjectChangeListener(ctx)
		if err != nil {
			t.Fatalf("AddObjectChangeListener() error = %v", err)
		}
		if want := "Listener added to device: Fan!"; res.Message() != want {
			t.Errorf("AddObjectChangeListener() = %q, want %q", res.Message(), want)
		}
	}
	if n := s.notifier.ListenerCount(); n != 1 {
		t.Errorf("ListenerCount() = %d, want 1", n)
	}

	// Listener callbacks run on the writer's goroutine and must not fail it.
	if _, err := s.AddComponent(ctx, "Blade"); err != nil {
		t.Fatalf("AddComponent() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		res, err = s.RemoveObjectChangeListener(ctx)
		if err != nil {
			t.Fatalf("RemoveObjectChangeListener() error = %v", err)
		}
		if want := "Listener removed from device: Fan!"; res.Message() != want {
			t.Errorf("RemoveObjectChangeListener() = %q, want %q", res.Message(), want)
		}
	}
	if n := s.notifier.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount() = %d, want 0", n)
	}
}

func TestRemoveListener_NeverAddedIsNoop(t *testing.T) {
	s := setup(t)

	for _, tok := range []notify.Token{0, 1, 999} {
		if err := s.RemoveListener(tok); err != nil {
			t.Errorf("RemoveListener(%d) error = %v", tok, err)
		}
	}
	res, err := s.RemoveObjectChangeListener(context.Background())
	if err != nil {
		t.Fatalf("RemoveObjectChangeListener() error = %v", err)
	}
	if res.Message() != msgListenerNoDevice {
		t.Errorf("RemoveObjectChangeListener() = %q", res.Message())
	}
}

func TestAddDevicesChangeListener(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []notify.Change
	tok, err := s.AddDevicesChangeListener(func(ev notify.Event) {
		mu.Lock()
		got = append(got, ev.Change)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("AddDevicesChangeListener() error = %v", err)
	}

	mustCreate(t, s, "Camera")
	if _, err := s.AddComponent(ctx, "Lens"); err != nil {
		t.Fatalf("AddComponent() error = %v", err)
	}
	if err := s.RemoveListener(tok); err != nil {
		t.Fatalf("RemoveListener() error = %v", err)
	}
	mustCreate(t, s, "Ignored")

	want := []notify.Change{
		{Kind: notify.Inserted},
		{Kind: notify.Updated, ChangedFields: []string{"components"}},
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
}

func TestAddCollectionListener_RejectsReadings(t *testing.T) {
	s := setup(t)
	if _, err := s.AddCollectionListener(store.TypeSensorReading, func(notify.Event) {}); !errors.Is(err, store.ErrValidation) {
		t.Errorf("AddCollectionListener(SensorReading) error = %v, want ErrValidation", err)
	}
}

// =============================================================================
// Cleanup Tests
// =============================================================================

func TestCleanup_EmptiesStoreAndSubscriptions(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	mustCreate(t, s, "A")
	mustCreate(t, s, "B")
	if _, err := s.AddComponent(ctx, "A1"); err != nil {
		t.Fatalf("AddComponent() error = %v", err)
	}
	if _, err := s.AddObjectChangeListener(ctx); err != nil {
		t.Fatalf("AddObjectChangeListener() error = %v", err)
	}

	res, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if res.Message() != msgCleanedUp {
		t.Errorf("Cleanup() = %q", res.Message())
	}

	records, err := s.store.Query(ctx, store.TypeDevice, store.Filter{})
	if err != nil {
		t.Fatalf("Query(Device) error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Query(Device) returned %d records, want 0", len(records))
	}

	subs, err := s.Subscriptions()
	if err != nil {
		t.Fatalf("Subscriptions() error = %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("Subscriptions() = %v, want none", subs)
	}
	if n := s.notifier.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount() = %d, want 0", n)
	}
}

func TestUpdateSubscriptions(t *testing.T) {
	h := newHarness(t, true)
	s := h.open(t)
	ctx := context.Background()

	only := subscription.Subscription{
		Label:  "devices-only",
		Type:   store.TypeDevice,
		Filter: store.Eq("owner_id", s.Owner()),
	}
	if err := s.UpdateSubscriptions(ctx, subscription.Replace, only); err != nil {
		t.Fatalf("UpdateSubscriptions() error = %v", err)
	}

	want := []string{testTopics.Collection(s.Owner(), string(store.TypeDevice))}
	if diff := cmp.Diff(want, h.transport.topics()); diff != "" {
		t.Errorf("topics mismatch (-want +got):\n%s", diff)
	}

	status, err := s.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Owner != s.Owner() || len(status.Subscriptions) != 1 || status.State != syncengine.StateConnected {
		t.Errorf("Status() = %+v", status)
	}
}
