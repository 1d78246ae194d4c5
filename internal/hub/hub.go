// Package hub fans execution results out to live WebSocket subscribers.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/testexec/internal/domain"
)

// ErrClosed is returned when the hub loop is no longer running.
var ErrClosed = errors.New("hub closed")

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// Options tunes connection handling. Zero values fall back to defaults.
type Options struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.ReadTimeout {
		o.PingInterval = o.ReadTimeout * 9 / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Connection is one subscriber. An empty case filter receives every result.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	hub     *Hub
	mu      sync.Mutex
	filter  map[int64]struct{}
	writeMu sync.Mutex
}

// Hub tracks subscribers and broadcasts result notifications to them.
type Hub struct {
	opts   Options
	logger *slog.Logger

	connections map[string]*Connection
	closed      bool
	mu          sync.RWMutex

	broadcast chan domain.ResultNotification
	done      chan struct{}
	once      sync.Once
}

// New creates a Hub. Run must be running for Deliver to make progress.
func New(opts Options, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		opts:        opts.withDefaults(),
		logger:      logger,
		connections: make(map[string]*Connection),
		broadcast:   make(chan domain.ResultNotification, 256),
		done:        make(chan struct{}),
	}
}

// Run is the hub main loop. It returns when ctx is cancelled, after closing
// every connection's send channel.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-h.broadcast:
			h.fanOut(n)
		}
	}
}

func (h *Hub) shutdown() {
	h.once.Do(func() { close(h.done) })
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, conn := range h.connections {
		delete(h.connections, id)
		close(conn.Send)
	}
}

func (h *Hub) remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; ok {
		delete(h.connections, conn.ID)
		close(conn.Send)
		h.logger.Debug("subscriber unregistered", "conn_id", conn.ID)
	}
}

func (h *Hub) fanOut(n domain.ResultNotification) {
	data, err := json.Marshal(ServerMessage{Type: TypeResult, Ts: time.Now().UnixMilli(), Result: &n})
	if err != nil {
		h.logger.Error("encode result", "execution_id", n.ExecutionID, "error", err)
		return
	}

	var slow []*Connection
	h.mu.RLock()
	for _, conn := range h.connections {
		if !conn.wants(n.CaseIDs) {
			continue
		}
		select {
		case conn.Send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slow {
		h.logger.Warn("subscriber buffer full, closing", "conn_id", conn.ID)
		h.remove(conn)
	}
}

// Name implements the result sink interface.
func (h *Hub) Name() string { return "websocket" }

// Deliver queues n for every matching subscriber.
func (h *Hub) Deliver(ctx context.Context, n domain.ResultNotification) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.broadcast <- n:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewConnection wraps ws with a fresh connection id and the given filter.
func (h *Hub) NewConnection(ws *websocket.Conn, caseIDs []int64) *Connection {
	conn := &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, h.opts.SendBuffer),
		hub:  h,
	}
	conn.setFilter(caseIDs)
	return conn
}

// Register adds conn to the hub.
func (h *Hub) Register(conn *Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.connections[conn.ID] = conn
	h.logger.Debug("subscriber registered", "conn_id", conn.ID)
	return nil
}

// Unregister removes conn and closes its send channel.
func (h *Hub) Unregister(conn *Connection) {
	h.remove(conn)
}

// ConnectionCount returns the number of registered subscribers.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (c *Connection) setFilter(caseIDs []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = make(map[int64]struct{}, len(caseIDs))
	for _, id := range caseIDs {
		c.filter[id] = struct{}{}
	}
}

func (c *Connection) wants(caseIDs []int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.filter) == 0 {
		return true
	}
	for _, id := range caseIDs {
		if _, ok := c.filter[id]; ok {
			return true
		}
	}
	return false
}

// send queues a message for this connection only. The hub lock guards
// against racing with the channel being closed.
func (c *Connection) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h := c.hub
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[c.ID]; !ok {
		return ErrClosed
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

func (c *Connection) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}
