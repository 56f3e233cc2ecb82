// Package publish pushes engine snapshots and status updates to
// websocket subscribers. Slow clients are disconnected rather than
// allowed to stall the broadcast path.
package publish

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/spreadwatch/spreadwatch/internal/market"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	clientBuffer   = 16
)

// envelope is the framed message pushed to subscribers.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans snapshots out to connected websocket clients.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]bool

	onCount func(n int)
}

// NewHub builds the hub. checkOrigin nil allows all origins.
func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[*client]bool),
	}
}

// SetClientGauge installs a hook called with the subscriber count on
// every connect and disconnect.
func (h *Hub) SetClientGauge(fn func(n int)) { h.onCount = fn }

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.add(c)
	go h.writeLoop(c)
	go h.readLoop(c)
}

// PublishSnapshot broadcasts an opportunities frame.
func (h *Hub) PublishSnapshot(snap market.Snapshot) {
	h.broadcast(envelope{Type: "opportunities", Data: snap})
}

// PublishStatus broadcasts an exchange-status frame.
func (h *Hub) PublishStatus(statuses []market.ExchangeStatus) {
	h.broadcast(envelope{Type: "status", Data: statuses})
}

// Clients returns the current subscriber count.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) broadcast(env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("type", env.Type).Msg("marshal broadcast")
		return
	}
	h.mu.Lock()
	var stalled []*client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.Unlock()
	for _, c := range stalled {
		log.Debug().Msg("dropping stalled websocket client")
		h.remove(c)
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	if h.onCount != nil {
		h.onCount(n)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	c.conn.Close()
	if h.onCount != nil {
		h.onCount(n)
	}
}

func (h *Hub) writeLoop(c *client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(c)
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop discards client frames; its job is to notice disconnects.
func (h *Hub) readLoop(c *client) {
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}
