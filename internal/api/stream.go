package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicesync/internal/infrastructure/config"
	"github.com/nerrad567/devicesync/internal/infrastructure/logging"
	"github.com/nerrad567/devicesync/internal/notify"
	"github.com/nerrad567/devicesync/internal/store"
)

// Change stream message types.
const (
	streamWatch   = "watch"
	streamUnwatch = "unwatch"
	streamPing    = "ping"
	streamPong    = "pong"
	streamChange  = "change"
	streamAck     = "ack"
	streamError   = "error"

	// streamBacklog is how many messages may wait for a slow client before
	// it is disconnected.
	streamBacklog = 256
)

// watchRequest is a client message. Watch and unwatch take whole record
// types, individual record ids, or both.
type watchRequest struct {
	Type    string             `json:"type"`
	ID      string             `json:"id,omitempty"`
	Types   []store.RecordType `json:"types,omitempty"`
	Records []string           `json:"records,omitempty"`
}

// streamMessage is a server message.
type streamMessage struct {
	Type     string         `json:"type"`
	ID       string         `json:"id,omitempty"`
	Change   *recordChange  `json:"change,omitempty"`
	Watching *watchSnapshot `json:"watching,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// recordChange is one committed change as sent to clients.
type recordChange struct {
	RecordType    store.RecordType `json:"record_type"`
	RecordID      string           `json:"record_id"`
	Kind          notify.Kind      `json:"kind"`
	ChangedFields []string         `json:"changed_fields,omitempty"`
	Record        any              `json:"record"`
	At            time.Time        `json:"at"`
}

// watchSnapshot reports a client's watches after a watch or unwatch.
type watchSnapshot struct {
	Types   []store.RecordType `json:"types"`
	Records []string           `json:"records"`
}

// Hub fans committed record changes out to change stream clients.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

// streamClient is one change stream connection and what it watches.
type streamClient struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte

	mu      sync.Mutex
	closed  bool
	types   map[store.RecordType]bool
	records map[string]bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty Hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
	stats.Clients(0)
}

func newStreamClient(h *Hub, conn *websocket.Conn, userID string) *streamClient {
	return &streamClient{
		hub:     h,
		conn:    conn,
		userID:  userID,
		send:    make(chan []byte, streamBacklog),
		types:   make(map[store.RecordType]bool),
		records: make(map[string]bool),
	}
}

func (h *Hub) add(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	stats.Clients(n)
	h.logger.Debug("change stream client connected", "clients", n, "user_id", c.userID)
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	stats.Clients(n)
	h.logger.Debug("change stream client disconnected", "clients", n, "user_id", c.userID)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends ev to every client watching its record type or record id.
func (h *Hub) Publish(ev notify.Event) {
	rt := store.RecordType(ev.Type)
	data, err := json.Marshal(streamMessage{
		Type: streamChange,
		Change: &recordChange{
			RecordType:    rt,
			RecordID:      ev.ID,
			Kind:          ev.Change.Kind,
			ChangedFields: ev.Change.ChangedFields,
			Record:        ev.Object,
			At:            time.Now().UTC(),
		},
	})
	if err != nil {
		h.logger.Error("encoding change for stream failed", "type", ev.Type, "id", ev.ID, "error", err)
		return
	}

	h.mu.RLock()
	var targets []*streamClient
	for c := range h.clients {
		if c.watches(rt, ev.ID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			h.logger.Warn("change stream client fell behind, disconnecting", "user_id", c.userID)
			h.remove(c)
		}
	}
	stats.Streamed(rt, len(targets))
}

func (c *streamClient) watches(rt store.RecordType, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.types[rt] || c.records[id]
}

// enqueue queues data without blocking. It reports false when the backlog
// is full.
func (c *streamClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close ends the send queue; the writer then closes the connection.
func (c *streamClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *streamClient) reply(msg streamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// apply handles one client message.
func (c *streamClient) apply(raw []byte) {
	var req watchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.reply(streamMessage{Type: streamError, Error: "invalid JSON message"})
		return
	}

	switch req.Type {
	case streamPing:
		c.reply(streamMessage{Type: streamPong, ID: req.ID})
		return
	case streamWatch, streamUnwatch:
	default:
		c.reply(streamMessage{Type: streamError, ID: req.ID, Error: "unknown message type: " + req.Type})
		return
	}

	for _, rt := range req.Types {
		if !rt.Valid() || rt.Asymmetric() {
			c.reply(streamMessage{Type: streamError, ID: req.ID, Error: "record type cannot be watched: " + string(rt)})
			return
		}
	}

	watch := req.Type == streamWatch
	c.mu.Lock()
	for _, rt := range req.Types {
		setWatch(c.types, rt, watch)
	}
	for _, id := range req.Records {
		setWatch(c.records, id, watch)
	}
	snap := &watchSnapshot{Types: sortedKeys(c.types), Records: sortedKeys(c.records)}
	c.mu.Unlock()

	c.reply(streamMessage{Type: streamAck, ID: req.ID, Watching: snap})
}

func setWatch[K comparable](m map[K]bool, k K, on bool) {
	if on {
		m[k] = true
	} else {
		delete(m, k)
	}
}

func sortedKeys[K ~string](m map[K]bool) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// handleWebSocket upgrades a ticket-authenticated request to a change
// stream. Tickets come from POST /auth/ws-ticket and are single use.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.validate(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newStreamClient(s.hub, conn, entry.userID)
	s.hub.add(c)
	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) keepalive() (ping, wait time.Duration) {
	return time.Duration(h.cfg.PingInterval) * time.Second, time.Duration(h.cfg.PongTimeout) * time.Second
}

// readLoop applies client messages until the connection fails.
func (c *streamClient) readLoop() {
	defer c.hub.remove(c)

	ping, wait := c.hub.keepalive()
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(ping + wait)) }

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	extend() //nolint:errcheck // A failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("change stream read failed", "user_id", c.userID, "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any message counts.
		extend() //nolint:errcheck // A failed deadline surfaces as a read error
		c.apply(data)
	}
}

// writeLoop drains the send queue and pings until the queue is closed.
func (c *streamClient) writeLoop() {
	ping, wait := c.hub.keepalive()
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // Connection is finished either way
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(wait)) //nolint:errcheck // Caught by the write
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // Best effort
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}
