package events

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

// Message is the frame sent to clients
type Message struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Seq       int64       `json:"seq"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// ClientInfo describes a connected client
type ClientInfo struct {
	ID          string    `json:"id"`
	IPAddress   string    `json:"ip_address"`
	ConnectedAt time.Time `json:"connected_at"`
}

type client struct {
	ClientInfo
	conn *websocket.Conn
	send chan []byte
}

// Options configures a Hub
type Options struct {
	SendBuffer  int                      // per-client queue length, default: 64
	CheckOrigin func(*http.Request) bool // default: allow all
	Logger      zerolog.Logger
}

// Hub accepts websocket clients and fans events out to them
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	closed   bool
	seq      uint64
	buffer   int
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(options Options) *Hub {
	if options.SendBuffer <= 0 {
		options.SendBuffer = 64
	}
	if options.CheckOrigin == nil {
		options.CheckOrigin = func(*http.Request) bool { return true }
	}

	return &Hub{
		clients:  make(map[string]*client),
		buffer:   options.SendBuffer,
		upgrader: websocket.Upgrader{CheckOrigin: options.CheckOrigin},
		logger:   options.Logger.With().Str("component", "events").Logger(),
	}
}

// ServeHTTP upgrades the request and registers the client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to generate client id")
		_ = conn.Close()
		return
	}

	c := &client{
		ClientInfo: ClientInfo{
			ID:          clientID,
			IPAddress:   r.RemoteAddr,
			ConnectedAt: time.Now(),
		},
		conn: conn,
		send: make(chan []byte, h.buffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[clientID] = c
	h.mu.Unlock()

	h.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Broadcast sends an event to every connected client
func (h *Hub) Broadcast(event string, data interface{}) {
	msg := Message{
		Type:      "event",
		Event:     event,
		Seq:       int64(atomic.AddUint64(&h.seq, 1)),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Int64("seq", msg.Seq).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	var slow []string
	delivered := 0
	for id, c := range h.clients {
		select {
		case c.send <- payload:
			delivered++
		default:
			slow = append(slow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range slow {
		h.logger.Warn().Str("clientId", id).Str("event", event).Msg("Client too slow, disconnecting")
		h.remove(id)
	}

	h.logger.Debug().
		Str("event", event).
		Int64("seq", msg.Seq).
		Int("success", delivered).
		Int("failed", len(slow)).
		Msg("Event broadcast complete")
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients lists connected clients ordered by connection time
func (h *Hub) Clients() []ClientInfo {
	h.mu.RLock()
	infos := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		infos = append(infos, c.ClientInfo)
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Close disconnects all clients and rejects new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.remove(id)
	}
}

// remove unregisters a client and stops its write loop. Safe to call more than once.
func (h *Hub) remove(clientID string) {
	h.mu.Lock()
	c, exists := h.clients[clientID]
	if exists {
		delete(h.clients, clientID)
		close(c.send)
	}
	h.mu.Unlock()

	if exists {
		h.logger.Info().Str("clientId", clientID).Msg("Client disconnected")
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()

	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Warn().Err(err).Str("clientId", c.ID).Msg("Failed to write to client")
			h.remove(c.ID)
			// drain until remove closes the channel
			for range c.send {
			}
			return
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop discards client frames and detects disconnects
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Error().Err(err).Str("clientId", c.ID).Msg("WebSocket error")
			}
			h.remove(c.ID)
			return
		}
	}
}
