package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/devicesync/internal/auth"
	"github.com/nerrad567/devicesync/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicesync/internal/notify"
	"github.com/nerrad567/devicesync/internal/store"
	"github.com/nerrad567/devicesync/internal/subscription"
	"github.com/nerrad567/devicesync/internal/syncengine"
)

// Result messages reported to callers.
const (
	msgCreateFailed      = "Object creation failed!"
	msgComponentNoDevice = "Add component failed, no device available!"
	msgComponentFailed   = "Add component failed!"
	msgComponentCreated  = "Component created and related to id: %s"
	msgSensorInvalid     = "Sensor measurement failed, values must be numbers!"
	msgSensorFailed      = "Sensor measurement failed!"
	msgSensorInserted    = "Sensor measurement {value_1: %s, value_2: %s} inserted!"
	msgSyncPaused        = "Sync paused!"
	msgSyncResumed       = "Sync resumed!"
	msgListenerNoDevice  = "No device available for listener!"
	msgListenerAdded     = "Listener added to device: %s!"
	msgListenerRemoved   = "Listener removed from device: %s!"
	msgCleanedUp         = "Store cleaned up!"
)

// Default subscription labels.
const (
	labelDeviceFilter    = "device-filter"
	labelComponentFilter = "component-filter"
)

// Logger defines the logging interface used by a Session. It is passed on
// to every component the session builds.
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

// Authenticator resolves credentials to a stable owner identity.
// auth.Provider implements it.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*auth.Identity, error)
}

// Credentials identify the user a session runs as.
type Credentials struct {
	Username string
	Password string
}

// Deps are the external pieces a Session is built on. The session does not
// own them: Close leaves the database and transport open.
type Deps struct {
	DB        *sql.DB
	Auth      Authenticator
	Transport syncengine.Transport
	Topics    mqtt.Topics

	// Sink receives sensor readings. When nil they are published to the
	// owner's ingest topic.
	Sink syncengine.Sink

	Engine syncengine.Config

	// SkipDefaultSubscriptions keeps only the persisted subscription set.
	SkipDefaultSubscriptions bool

	Logger Logger
}

// Result is the outcome of an operation, shaped for direct JSON encoding.
// Result holds either a message or the created object.
type Result struct {
	Result any `json:"result"`
}

// Message returns the result as a string when it is one.
func (r Result) Message() string {
	s, _ := r.Result.(string)
	return s
}

// DeviceRef is the short form of a device returned by listings.
type DeviceRef struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// Status summarises a session for diagnostics.
type Status struct {
	Owner         string                      `json:"owner"`
	State         syncengine.State            `json:"state"`
	Store         store.Stats                 `json:"store"`
	Subscriptions []subscription.Subscription `json:"subscriptions"`
	Topics        []string                    `json:"topics"`
	Listeners     int                         `json:"listeners"`
}

// Session is one logged-in user's view of the synced store.
//
// All public methods are thread-safe.
type Session struct {
	identity auth.Identity
	store    *store.Store
	notifier *notify.Notifier
	subs     *subscription.Manager
	engine   *syncengine.Engine
	logger   Logger

	// initial tracks the subscription update installed by Initialize.
	initial *subscription.Pending

	mu     sync.Mutex
	closed bool
	// objectListeners maps device ids to their logging listener.
	objectListeners map[string]notify.Token
}

// DefaultSubscriptions returns the device-filter and component-filter
// subscriptions covering every record owned by owner.
func DefaultSubscriptions(owner string) []subscription.Subscription {
	return []subscription.Subscription{
		{Label: labelDeviceFilter, Type: store.TypeDevice, Filter: store.Eq("owner_id", owner)},
		{Label: labelComponentFilter, Type: store.TypeComponent, Filter: store.Eq("owner_id", owner)},
	}
}

// Initialize logs in and starts a Session. A login failure returns an error
// wrapping ErrAuth and leaves nothing running.
func Initialize(ctx context.Context, deps Deps, creds Credentials) (*Session, error) {
	if deps.DB == nil || deps.Auth == nil || deps.Transport == nil {
		return nil, fmt.Errorf("%w: db, auth and transport are required", ErrInvalidDeps)
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	identity, err := deps.Auth.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		logger.Error("login failed", "username", creds.Username, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if err := store.ValidateOwner(identity.UserID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}

	notifier := notify.New()
	notifier.SetLogger(logger)

	st := store.New(deps.DB, notifier)
	st.SetLogger(logger)

	engine := syncengine.New(st, deps.Transport, deps.Topics, deps.Engine)
	engine.SetLogger(logger)
	if deps.Sink != nil {
		engine.SetSink(deps.Sink)
	}

	subs := subscription.New(deps.DB, identity.UserID, st)
	subs.SetLogger(logger)
	subs.SetApplier(engine)
	if err := subs.Load(ctx); err != nil {
		return nil, fmt.Errorf("restoring subscriptions: %w", err)
	}

	var defaults []subscription.Subscription
	if !deps.SkipDefaultSubscriptions {
		defaults = DefaultSubscriptions(identity.UserID)
	}

	s := &Session{
		identity:        *identity,
		store:           st,
		notifier:        notifier,
		subs:            subs,
		engine:          engine,
		logger:          logger,
		objectListeners: make(map[string]notify.Token),
	}

	// Augment with no defaults still pushes the restored set to the engine.
	s.initial = subs.Update(ctx, subscription.Augment, defaults...)

	if err := engine.Start(context.WithoutCancel(ctx)); err != nil {
		subs.Wait()
		return nil, fmt.Errorf("starting sync engine: %w", err)
	}

	logger.Info("session initialized",
		"owner", identity.UserID,
		"username", identity.Username,
		"default_subscriptions", len(defaults),
	)
	return s, nil
}

func (s *Session) ready() error {
	if s == nil {
		return ErrSessionNotReady
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionNotReady
	}
	return nil
}

// Identity returns the logged-in identity.
func (s *Session) Identity() (auth.Identity, error) {
	if err := s.ready(); err != nil {
		return auth.Identity{}, err
	}
	return s.identity, nil
}

// Owner returns the owner id records are partitioned by.
func (s *Session) Owner() string {
	if s == nil {
		return ""
	}
	return s.identity.UserID
}

// SubscriptionsReady waits until the subscription set installed by
// Initialize has been applied.
func (s *Session) SubscriptionsReady(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	err := s.initial.Wait(ctx)
	if errors.Is(err, subscription.ErrSuperseded) {
		return nil
	}
	return err
}

// Devices lists the owner's devices.
func (s *Session) Devices(ctx context.Context) ([]DeviceRef, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	devices, err := s.store.Devices(ctx, store.Eq("owner_id", s.identity.UserID))
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	refs := make([]DeviceRef, len(devices))
	for i, d := range devices {
		refs[i] = DeviceRef{ID: d.ID, Name: d.Name}
	}
	return refs, nil
}

// Device returns one device with its components.
func (s *Session) Device(ctx context.Context, id string) (*store.Device, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.store.Device(ctx, id)
}

// CreateDevice creates a switched-off device. On success the Result holds
// the new DeviceRef.
func (s *Session) CreateDevice(ctx context.Context, name string) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}

	var created *store.Device
	err := s.store.Write(ctx, func(txn *store.Txn) error {
		d, err := txn.CreateDevice(s.identity.UserID, name)
		created = d
		return err
	})
	if err != nil {
		s.logger.Warn("creating device failed", "name", name, "error", err)
		return Result{Result: msgCreateFailed}, nil
	}

	s.engine.Kick()
	s.logger.Info("device created", "id", created.ID, "name", created.Name)
	return Result{Result: DeviceRef{ID: created.ID, Name: created.Name}}, nil
}

// errNoDevice aborts writes that need an existing device.
var errNoDevice = errors.New("no device available")

// AddComponent adds a component to the owner's first device.
func (s *Session) AddComponent(ctx context.Context, name string) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}

	var device *store.Device
	err := s.store.Write(ctx, func(txn *store.Txn) error {
		devices, err := txn.Devices(store.Eq("owner_id", s.identity.UserID))
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			return errNoDevice
		}
		device = &devices[0]
		_, err = txn.AddComponent(device.ID, s.identity.UserID, name)
		return err
	})
	switch {
	case errors.Is(err, errNoDevice):
		return Result{Result: msgComponentNoDevice}, nil
	case err != nil:
		s.logger.Warn("adding component failed", "name", name, "error", err)
		return Result{Result: msgComponentFailed}, nil
	}

	s.engine.Kick()
	return Result{Result: fmt.Sprintf(msgComponentCreated, device.Name)}, nil
}

// AddSensor queues a sensor reading for upload. Both values must parse as
// numbers.
func (s *Session) AddSensor(ctx context.Context, value1, value2 string) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}

	v1, err1 := parseValue(value1)
	v2, err2 := parseValue(value2)
	if err := errors.Join(err1, err2); err != nil {
		s.logger.Warn("invalid sensor values", "value_1", value1, "value_2", value2, "error", err)
		return Result{Result: msgSensorInvalid}, nil
	}

	err := s.store.Write(ctx, func(txn *store.Txn) error {
		_, err := txn.AppendReading(s.identity.UserID, v1, v2)
		return err
	})
	if err != nil {
		s.logger.Warn("appending sensor reading failed", "error", err)
		return Result{Result: msgSensorFailed}, nil
	}

	s.engine.Kick()
	return Result{Result: fmt.Sprintf(msgSensorInserted, formatValue(v1), formatValue(v2))}, nil
}

func parseValue(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// PauseSync stops uploads and inbound delivery. The store stays usable.
func (s *Session) PauseSync(context.Context) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	s.engine.Pause()
	return Result{Result: msgSyncPaused}, nil
}

// ResumeSync restarts sync after PauseSync. Transport failures while
// re-subscribing are logged; the transport keeps retrying.
func (s *Session) ResumeSync(ctx context.Context) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	if err := s.engine.Resume(ctx); err != nil {
		s.logger.Warn("resuming sync incomplete", "error", err)
	}
	return Result{Result: msgSyncResumed}, nil
}

// SyncState reports the engine's state.
func (s *Session) SyncState() (syncengine.State, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	return s.engine.State(), nil
}

// Kick asks the engine to upload pending changes now. Call it when the
// transport reconnects.
func (s *Session) Kick() {
	if s.ready() == nil {
		s.engine.Kick()
	}
}

// AddObjectChangeListener logs every change to the owner's first device.
// Adding it twice for the same device keeps a single listener.
func (s *Session) AddObjectChangeListener(ctx context.Context) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	device, err := s.firstDevice(ctx)
	if err != nil {
		return Result{}, err
	}
	if device == nil {
		return Result{Result: msgListenerNoDevice}, nil
	}

	s.mu.Lock()
	if _, ok := s.objectListeners[device.ID]; !ok {
		s.objectListeners[device.ID] = s.notifier.AddObjectListener(string(store.TypeDevice), device.ID, s.logDeviceChange)
	}
	s.mu.Unlock()

	return Result{Result: fmt.Sprintf(msgListenerAdded, device.Name)}, nil
}

// RemoveObjectChangeListener removes the listener added by
// AddObjectChangeListener from the owner's first device.
func (s *Session) RemoveObjectChangeListener(ctx context.Context) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	device, err := s.firstDevice(ctx)
	if err != nil {
		return Result{}, err
	}
	if device == nil {
		return Result{Result: msgListenerNoDevice}, nil
	}

	s.mu.Lock()
	if tok, ok := s.objectListeners[device.ID]; ok {
		s.notifier.RemoveListener(tok)
		delete(s.objectListeners, device.ID)
	}
	s.mu.Unlock()

	return Result{Result: fmt.Sprintf(msgListenerRemoved, device.Name)}, nil
}

func (s *Session) logDeviceChange(ev notify.Event) {
	if ev.Change.IsDeletion() {
		s.logger.Info("device deleted", "id", ev.ID)
		return
	}
	args := []any{"id", ev.ID, "change", ev.Change.Kind.String()}
	if d, ok := ev.Object.(*store.Device); ok {
		args = append(args, "name", d.Name, "is_on", d.IsOn)
	}
	if len(ev.Change.ChangedFields) > 0 {
		args = append(args, "changed_fields", ev.Change.ChangedFields)
	}
	s.logger.Info("device changed", args...)
}

func (s *Session) firstDevice(ctx context.Context) (*store.Device, error) {
	devices, err := s.store.Devices(ctx, store.Eq("owner_id", s.identity.UserID))
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, nil
	}
	return &devices[0], nil
}

// AddDevicesChangeListener registers cb for changes to any Device.
func (s *Session) AddDevicesChangeListener(cb notify.Callback) (notify.Token, error) {
	return s.AddCollectionListener(store.TypeDevice, cb)
}

// AddCollectionListener registers cb for changes to any record of type t.
func (s *Session) AddCollectionListener(t store.RecordType, cb notify.Callback) (notify.Token, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if !t.Valid() || t.Asymmetric() {
		return 0, fmt.Errorf("%w: cannot listen to %q", store.ErrValidation, t)
	}
	return s.notifier.AddCollectionListener(string(t), cb), nil
}

// RemoveListener deregisters a listener. Unknown tokens are ignored.
func (s *Session) RemoveListener(tok notify.Token) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.notifier.RemoveListener(tok)
	return nil
}

// Subscriptions returns the active subscription set.
func (s *Session) Subscriptions() ([]subscription.Subscription, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.subs.Active(), nil
}

// UpdateSubscriptions changes the subscription set and waits for it to be
// applied.
func (s *Session) UpdateSubscriptions(ctx context.Context, mode subscription.Mode, subs ...subscription.Subscription) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.subs.Update(ctx, mode, subs...).Wait(ctx)
}

// Status summarises the session.
func (s *Session) Status(ctx context.Context) (Status, error) {
	if err := s.ready(); err != nil {
		return Status{}, err
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Owner:         s.identity.UserID,
		State:         s.engine.State(),
		Store:         stats,
		Subscriptions: s.subs.Active(),
		Topics:        s.engine.SubscribedTopics(),
		Listeners:     s.notifier.ListenerCount(),
	}, nil
}

// Cleanup removes every listener, deletes every record and clears the
// subscription set, in that order.
func (s *Session) Cleanup(ctx context.Context) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	s.notifier.RemoveAllListeners()
	clear(s.objectListeners)
	s.mu.Unlock()

	if err := s.store.DeleteAll(ctx); err != nil {
		return Result{}, fmt.Errorf("deleting records: %w", err)
	}
	s.engine.Kick()

	err := s.subs.RemoveAll(ctx).Wait(ctx)
	if err != nil && !errors.Is(err, subscription.ErrSuperseded) {
		return Result{}, fmt.Errorf("removing subscriptions: %w", err)
	}

	s.logger.Info("session cleaned up", "owner", s.identity.UserID)
	return Result{Result: msgCleanedUp}, nil
}

// Close stops the sync engine and drops every listener. Later calls return
// ErrSessionNotReady.
func (s *Session) Close() error {
	if s == nil {
		return ErrSessionNotReady
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionNotReady
	}
	s.closed = true
	s.mu.Unlock()

	s.subs.Wait()
	// Pausing drops the transport subscriptions so no handler outlives the session.
	s.engine.Pause()
	s.engine.Stop()
	s.notifier.RemoveAllListeners()

	s.logger.Info("session closed", "owner", s.identity.UserID)
	return nil
}
