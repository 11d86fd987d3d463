package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// ConnectionTracker is told when a student's live connection comes and goes.
type ConnectionTracker interface {
	AttachConnection(ctx context.Context, studentID, connID string) error
	DetachConnection(ctx context.Context, studentID, connID string) error
}

type client struct {
	id        string
	studentID string
	tracked   bool
	conn      *websocket.Conn

	mu     sync.Mutex
	send   chan Event
	closed bool
}

// offer queues evt without blocking. It reports false when the buffer is full.
func (c *client) offer(evt Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub delivers events to websocket connections. Connections without a student are dashboards
// and receive everything; a student connection receives its own events and force-logouts aimed at it.
type Hub struct {
	upgrader websocket.Upgrader
	tracker  ConnectionTracker
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates a hub. tracker may be nil.
func NewHub(tracker ConnectionTracker, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		tracker: tracker,
		log:     log,
		clients: make(map[string]*client),
	}
}

// Run forwards events from the subscription until it closes or ctx ends.
func (h *Hub) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			h.Dispatch(evt)
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch routes one event to the matching connections.
func (h *Hub) Dispatch(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if evt.Type == ForceLogout {
		if c, ok := h.clients[evt.Target]; ok {
			h.deliver(c, evt)
			c.close()
		}
		return
	}
	for _, c := range h.clients {
		if c.studentID == "" || c.studentID == evt.StudentID {
			h.deliver(c, evt)
		}
	}
}

func (h *Hub) deliver(c *client, evt Event) {
	if !c.offer(evt) {
		h.log.Warn("websocket send buffer full, dropping event",
			zap.String("conn_id", c.id), zap.String("type", string(evt.Type)))
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request. An empty studentID registers a dashboard. Only a tracked
// connection is reported to the tracker; staff watching one student pass track=false.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, studentID string, track bool) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		id:        uuid.NewString(),
		studentID: studentID,
		tracked:   track && studentID != "",
		conn:      conn,
		send:      make(chan Event, 64),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Info("websocket connected", zap.String("conn_id", c.id), zap.String("student_id", studentID))

	if c.tracked && h.tracker != nil {
		if err := h.tracker.AttachConnection(r.Context(), studentID, c.id); err != nil {
			h.log.Warn("attach connection failed", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	_ = conn.WriteJSON(Event{ID: uuid.NewString(), Type: "connected", StudentID: studentID, Target: c.id, At: time.Now().UTC()})

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	if c.tracked && h.tracker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.tracker.DetachConnection(ctx, c.studentID, c.id); err != nil {
			h.log.Warn("detach connection failed", zap.String("student_id", c.studentID), zap.Error(err))
		}
	}
	h.log.Info("websocket disconnected", zap.String("conn_id", c.id))
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case evt, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logged out"))
				return
			}
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
