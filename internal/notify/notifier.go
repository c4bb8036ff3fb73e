package notify

import (
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Notifier.
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

// listener is one registration. An empty id means the whole collection.
type listener struct {
	token Token
	typ   string
	id    string
	cb    Callback
}

func (l *listener) matches(ev Event) bool {
	if l.typ != ev.Type {
		return false
	}
	return l.id == "" || l.id == ev.ID
}

// delivery pairs an event with the listener it was snapshotted for.
type delivery struct {
	event    Event
	listener *listener
}

// Notifier fans committed events out to listeners in commit order.
//
// All public methods are thread-safe.
type Notifier struct {
	mu        sync.Mutex
	nextToken Token
	listeners []*listener       // Registration order
	byToken   map[Token]*listener
	queue     []delivery
	draining  bool
	logger    Logger
}

// New creates an empty Notifier.
func New() *Notifier {
	return &Notifier{
		byToken: make(map[Token]*listener),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger used to report recovered callback panics.
func (n *Notifier) SetLogger(logger Logger) {
	n.mu.Lock()
	n.logger = logger
	n.mu.Unlock()
}

// AddObjectListener registers cb for changes to the object typ/id.
func (n *Notifier) AddObjectListener(typ, id string, cb Callback) Token {
	return n.add(typ, id, cb)
}

// AddCollectionListener registers cb for changes to any object of typ.
func (n *Notifier) AddCollectionListener(typ string, cb Callback) Token {
	return n.add(typ, "", cb)
}

func (n *Notifier) add(typ, id string, cb Callback) Token {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextToken++
	l := &listener{token: n.nextToken, typ: typ, id: id, cb: cb}
	n.listeners = append(n.listeners, l)
	n.byToken[l.token] = l
	return l.token
}

// RemoveListener deregisters the listener for tok. Unknown or already
// removed tokens are ignored.
func (n *Notifier) RemoveListener(tok Token) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.byToken[tok]; !ok {
		return
	}
	delete(n.byToken, tok)
	for i, l := range n.listeners {
		if l.token == tok {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			break
		}
	}
}

// RemoveAllListeners deregisters every listener.
func (n *Notifier) RemoveAllListeners() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.listeners = nil
	n.byToken = make(map[Token]*listener)
}

// ListenerCount returns the number of registered listeners.
func (n *Notifier) ListenerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

// Enqueue queues events for every listener registered right now.
// Callers must enqueue in commit order.
func (n *Notifier) Enqueue(events []Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ev := range events {
		for _, l := range n.listeners {
			if l.matches(ev) {
				n.queue = append(n.queue, delivery{event: ev, listener: l})
			}
		}
	}
}

// Flush delivers queued events until the queue is empty. If another
// goroutine (or an outer Flush on this goroutine) is already draining,
// Flush returns immediately and that drain delivers the events.
func (n *Notifier) Flush() {
	n.mu.Lock()
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true

	for len(n.queue) > 0 {
		d := n.queue[0]
		n.queue[0] = delivery{}
		n.queue = n.queue[1:]
		_, live := n.byToken[d.listener.token]
		logger := n.logger
		n.mu.Unlock()

		if live {
			n.deliver(d, logger)
		}

		n.mu.Lock()
	}

	n.queue = nil
	n.draining = false
	n.mu.Unlock()
}

// deliver invokes one callback, recovering from panics.
func (n *Notifier) deliver(d delivery, logger Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("listener panicked",
				"type", d.event.Type,
				"id", d.event.ID,
				"change", d.event.Change.Kind.String(),
				"panic", fmt.Sprint(r),
			)
		}
	}()
	d.listener.cb(d.event)
}
