package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	outboundQueue = 64
)

// envelope is the wire frame for every outbound event.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// conn wraps one websocket with a buffered outbound queue. All writes go
// through the queue and a single pump goroutine, since gorilla websockets
// allow only one concurrent writer. The closed flag outlives the queue: rooms
// keep addressing a connection for a moment after it is dropped, and those
// sends must be no-ops rather than sends on a closed channel.
type conn struct {
	id string
	ws *websocket.Conn

	mu     sync.Mutex
	out    chan []byte
	closed bool
}

func newConn(id string, ws *websocket.Conn) *conn {
	c := &conn{
		id:  id,
		ws:  ws,
		out: make(chan []byte, outboundQueue),
	}
	go c.writePump()
	return c
}

func (c *conn) writePump() {
	for msg := range c.out {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Debug("gateway: write failed", "conn", c.id, "error", err)
			_ = c.ws.Close()
			return
		}
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	_ = c.ws.Close()
}

// enqueue hands a frame to the pump without blocking. A full queue means the
// client is not keeping up; the connection is dropped rather than letting it
// stall a room's event loop. Frames for an already-closed connection are
// discarded.
func (c *conn) enqueue(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.out <- msg:
	default:
		slog.Warn("gateway: slow consumer, dropping connection", "conn", c.id)
		c.closed = true
		close(c.out)
	}
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

// Hub tracks open connections by ID and delivers room events to them. It
// satisfies the rooms' outbound sink.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*conn)}
}

func (h *Hub) Add(id string, ws *websocket.Conn) {
	c := newConn(id, ws)

	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()

	if ok {
		c.close()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}

// Send marshals one event frame for one connection. Unknown connection IDs
// are dropped silently: rooms may address players that disconnected a moment
// ago.
func (h *Hub) Send(connID, event string, data any) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()

	if !ok {
		return
	}

	msg, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		slog.Error("gateway: marshal event failed", "event", event, "error", err)
		return
	}

	c.enqueue(msg)
}
