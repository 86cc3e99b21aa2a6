// Package websocket provides WebSocket-based event broadcasting for
// real-time monitoring of triage decisions.
package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"omnidesk-triage/internal/core/domain"
)

const (
	// Fan-out buffers. Events are operational telemetry: losing one under
	// pressure beats blocking the pipeline.
	broadcastBufferSize = 256
	clientBufferSize    = 64

	// WebSocket timeouts
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EventHub fans triage events out to all connected dashboard clients.
// One event source, N observers, drop-if-full.
type EventHub struct {
	clients map[*client]struct{}

	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	mu sync.RWMutex

	// Secret key for dashboard authentication
	secretKey string

	upgrader websocket.Upgrader
}

// client represents a connected dashboard observer
type client struct {
	hub  *EventHub
	conn *websocket.Conn
	send chan []byte
}

// NewEventHub creates an event hub. secretKey authenticates dashboard
// connections.
func NewEventHub(secretKey string) *EventHub {
	return &EventHub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		secretKey:  secretKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Internal dashboard protected by the secret key.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run starts the hub's main event loop (call as goroutine)
func (h *EventHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			slog.Debug("Event hub client connected", "clients", count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client: drop the event, keep the hub moving.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish broadcasts a triage event to all connected clients.
// Implements the pipeline's EventPublisher contract. Non-blocking.
func (h *EventHub) Publish(event domain.TriageEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to encode triage event", "error", err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		// Buffer full: drop rather than stall the caller.
	}
}

// HandleWS upgrades GET /ws/events connections. Clients authenticate with
// ?key=<secret>.
func (h *EventHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("key") != h.secretKey {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBufferSize),
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// writePump pushes hub events to one client connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client messages; observers only listen, so everything
// except pongs is discarded.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
