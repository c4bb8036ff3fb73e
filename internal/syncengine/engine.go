package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/devicesync/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicesync/internal/subscription"
)

// Engine syncs one owner's partition of the local store over a Transport.
//
// All public methods are thread-safe.
type Engine struct {
	store     LocalStore
	transport Transport
	topics    mqtt.Topics
	cfg       Config
	logger    Logger

	mu     sync.Mutex
	sink   Sink
	paused bool
	owner  string
	subs   []subscription.Subscription
	// subscribed is the set of topics currently subscribed on the transport.
	subscribed map[string]struct{}

	// opMu serialises subscription changes, Pause and Resume.
	opMu sync.Mutex

	// uploadMu serialises upload cycles.
	uploadMu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	kick    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New creates an Engine. It does nothing until subscriptions are applied
// and Start is called.
func New(st LocalStore, transport Transport, topics mqtt.Topics, cfg Config) *Engine {
	if cfg.UploadInterval <= 0 {
		cfg.UploadInterval = defaultUploadInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Engine{
		store:      st,
		transport:  transport,
		topics:     topics,
		cfg:        cfg,
		logger:     noopLogger{},
		subscribed: make(map[string]struct{}),
		ctx:        context.Background(),
		kick:       make(chan struct{}, 1),
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// SetSink routes sensor readings to sink instead of the ingest topic.
func (e *Engine) SetSink(sink Sink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// Start launches the upload loop. It stops when ctx is cancelled or Stop
// is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyStarted
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.running = true

	e.wg.Add(1)
	go e.run(e.ctx)

	e.logger.Info("sync engine started",
		"client_id", e.cfg.ClientID,
		"upload_interval", e.cfg.UploadInterval,
	)
	return nil
}

// Stop ends the upload loop and waits for it. Subscriptions stay in place.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	// Inbound messages keep arriving while subscribed.
	e.ctx = context.Background()
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Info("sync engine stopped")
}

// Kick asks the upload loop to run a cycle soon. It never blocks.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.UploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.kick:
		}

		if err := e.Upload(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("sync upload cycle failed", "error", err)
		}
	}
}

// State reports whether sync is paused, connected or disconnected.
func (e *Engine) State() State {
	e.mu.Lock()
	paused := e.paused
	e.mu.Unlock()

	switch {
	case paused:
		return StatePaused
	case e.transport.IsConnected():
		return StateConnected
	default:
		return StateDisconnected
	}
}

// ApplySubscriptions implements subscription.Applier. It subscribes to one
// collection topic per subscribed record type and drops topics no longer
// needed. While paused, the set is only recorded and applied on Resume.
func (e *Engine) ApplySubscriptions(ctx context.Context, owner string, subs []subscription.Subscription) error {
	if !mqtt.ValidSegment(owner) {
		return fmt.Errorf("%w: owner %q is not a valid topic segment", ErrTransport, owner)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	e.owner = owner
	e.subs = subs
	paused := e.paused
	e.mu.Unlock()

	if paused {
		e.logger.Debug("subscriptions recorded while paused", "count", len(subs))
		return nil
	}
	return e.syncTopics(ctx)
}

// Pause stops uploads and inbound delivery. The local store stays fully
// usable; local changes queue up in the outbox. Pausing twice is a no-op.
func (e *Engine) Pause() {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return
	}
	e.paused = true
	topics := e.subscribedTopics()
	e.mu.Unlock()

	for _, topic := range topics {
		if err := e.transport.Unsubscribe(topic); err != nil {
			stats.Failed(stageSubscribe)
			e.logger.Warn("unsubscribing on pause failed", "topic", topic, "error", err)
		}
		e.mu.Lock()
		delete(e.subscribed, topic)
		e.mu.Unlock()
	}

	e.logger.Info("sync paused")
}

// Resume re-subscribes and restarts uploads. It is a no-op when not paused.
func (e *Engine) Resume(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return nil
	}
	e.paused = false
	e.mu.Unlock()

	err := e.syncTopics(ctx)
	e.Kick()
	e.logger.Info("sync resumed")
	return err
}

// Paused reports whether sync is paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// syncTopics brings the transport's subscriptions in line with the active
// subscription set. Callers hold opMu.
func (e *Engine) syncTopics(ctx context.Context) error {
	e.mu.Lock()
	want := make(map[string]struct{})
	for _, s := range e.subs {
		want[e.topics.Collection(e.owner, string(s.Type))] = struct{}{}
	}
	var remove []string
	for topic := range e.subscribed {
		if _, ok := want[topic]; !ok {
			remove = append(remove, topic)
		}
	}
	var add []string
	for topic := range want {
		if _, ok := e.subscribed[topic]; !ok {
			add = append(add, topic)
		}
	}
	e.mu.Unlock()

	sort.Strings(remove)
	sort.Strings(add)

	var errs []error
	for _, topic := range remove {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.transport.Unsubscribe(topic); err != nil {
			stats.Failed(stageSubscribe)
			errs = append(errs, fmt.Errorf("%w: unsubscribing %s: %w", ErrTransport, topic, err))
			continue
		}
		e.mu.Lock()
		delete(e.subscribed, topic)
		e.mu.Unlock()
	}
	for _, topic := range add {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.transport.Subscribe(topic, e.cfg.QoS, e.handleMessage); err != nil {
			stats.Failed(stageSubscribe)
			errs = append(errs, fmt.Errorf("%w: subscribing %s: %w", ErrTransport, topic, err))
			continue
		}
		e.mu.Lock()
		e.subscribed[topic] = struct{}{}
		e.mu.Unlock()
	}

	e.logger.Debug("sync topics updated", "added", len(add), "removed", len(remove))
	return errors.Join(errs...)
}

// SubscribedTopics returns the topics currently subscribed, sorted.
func (e *Engine) SubscribedTopics() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subscribedTopics()
}

func (e *Engine) subscribedTopics() []string {
	out := make([]string, 0, len(e.subscribed))
	for topic := range e.subscribed {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}
