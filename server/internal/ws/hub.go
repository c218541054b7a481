package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/appmonitor/pkg/types"
	"github.com/obsidianstack/appmonitor/server/internal/monitor"
)

// Connection tuning. Pings go out well inside the pong window so an idle
// but healthy client is never timed out.
const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
	maxInbound   = 512
	queueDepth   = 16
)

// Event names used in Message.Event.
const (
	EventDashboard = "dashboard"
	EventAlert     = "alert"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Dashboards are served from other origins; access control sits in front of the hub.
	CheckOrigin: func(*http.Request) bool { return true },
}

// DashboardSource produces the dashboard snapshot broadcast to clients.
type DashboardSource interface {
	DashboardData() monitor.Dashboard
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub manages WebSocket client connections and broadcasts the dashboard to
// all connected clients every interval.
type Hub struct {
	src      DashboardSource
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client is one dashboard connection. send is closed by the hub only, under mu.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that reads from src and broadcasts every interval.
func New(src DashboardSource, interval time.Duration) *Hub {
	return &Hub{
		src:      src,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run starts the broadcast ticker loop. Run blocks until ctx is cancelled,
// then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			if h.Count() > 0 {
				h.broadcast(h.dashboardMessage())
			}
		}
	}
}

// Notify pushes a new alert to every connected client. It never blocks.
func (h *Hub) Notify(a types.Alert) {
	data, err := json.Marshal(Message{Event: EventAlert, Data: a})
	if err != nil {
		slog.Error("ws: encode alert", "alert", a.ID, "err", err)
		return
	}
	h.broadcast(data)
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// The current dashboard is queued before the client joins the broadcast set,
// so it is always the first message. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{conn: conn, send: make(chan []byte, queueDepth)}
	if data := h.dashboardMessage(); data != nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.forward()
	c.drain()
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// broadcast queues data for every client. Sends happen under the read lock so
// no send channel can be closed underneath them; clients whose buffer is full
// are dropped afterwards.
func (h *Hub) broadcast(data []byte) {
	if data == nil {
		return
	}
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws: dropping slow client", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

func (h *Hub) dashboardMessage() []byte {
	data, err := json.Marshal(Message{Event: EventDashboard, Data: h.src.DashboardData()})
	if err != nil {
		slog.Error("ws: encode dashboard", "err", err)
		return nil
	}
	return data
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// forward writes queued messages and keepalive pings until the queue is
// closed or a write fails.
func (c *client) forward() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// drain discards inbound frames so pong and close control frames are
// processed. It returns once the peer goes away or stops answering pings.
func (c *client) drain() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxInbound)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}
