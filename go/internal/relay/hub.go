package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/fichas-one/fichas/go/internal/store"
)

// Hub manages WebSocket connections sharing one room store
type Hub struct {
	backend store.Store

	connections map[*Connection]bool
	mu          sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *Hub

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	RequestTimeout  time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		RequestTimeout:  10 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewHub creates a hub serving backend
func NewHub(backend store.Store, config ConnectionConfig) *Hub {
	return &Hub{
		backend:     backend,
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// Start subscribes to the backend and broadcasts its snapshots until ctx
// is done. It returns once the subscription is open.
func (h *Hub) Start(ctx context.Context) error {
	watch, err := h.backend.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch backend: %w", err)
	}

	log.Info().Msg("relay hub started")
	go func() {
		for snap := range watch {
			h.broadcast(Frame{Type: FrameSnapshot, Snapshot: snap})
		}
		log.Info().Msg("relay hub shutting down")
		h.closeAll()
	}()
	return nil
}

// ServeHTTP upgrades the request to a WebSocket connection
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Hub:         h,
		ConnectedAt: time.Now(),
	}

	h.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")
}

// ConnectionCount returns the number of live connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(h.connections)).
		Msg("connection registered")
}

func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[conn]; exists {
		delete(h.connections, conn)
		close(conn.Send)

		log.Info().
			Str("connection_id", conn.ID).
			Msg("connection unregistered")
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var targets []*Connection
	for conn := range h.connections {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		h.unregister(conn)
	}
}

func (h *Hub) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame for broadcast")
		return
	}

	h.mu.RLock()
	var targets []*Connection
	for conn := range h.connections {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.trySend(data)
	}

	log.Debug().
		Int("keys", len(frame.Snapshot)).
		Int("connections", len(targets)).
		Msg("snapshot broadcasted")
}

// trySend queues data without blocking. A connection that cannot keep up
// is dropped.
func (c *Connection) trySend(data []byte) {
	c.Hub.mu.RLock()
	_, live := c.Hub.connections[c]
	if live {
		select {
		case c.Send <- data:
			c.Hub.mu.RUnlock()
			return
		default:
		}
	}
	c.Hub.mu.RUnlock()
	if !live {
		return
	}

	log.Warn().
		Str("connection_id", c.ID).
		Msg("connection send buffer full, closing connection")
	c.Hub.unregister(c)
	c.Conn.Close()
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Hub.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading requests from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ReadTimeout))
	}
}

// handleClientMessage runs one request against the backend and queues
// the reply.
func (c *Connection) handleClientMessage(message []byte) {
	var req Frame
	if err := json.Unmarshal(message, &req); err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Msg("invalid client frame")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Hub.config.RequestTimeout)
	defer cancel()

	reply := Frame{Type: FrameReply, ID: req.ID}
	switch req.Type {
	case FrameGetAll:
		snap, err := c.Hub.backend.GetAll(ctx)
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Snapshot = snap
		}
	case FrameSet:
		if err := c.Hub.backend.Set(ctx, req.Patch); err != nil {
			reply.Error = err.Error()
		}
	default:
		reply.Error = fmt.Sprintf("unknown frame type %q", req.Type)
	}

	if reply.Error != "" {
		log.Warn().
			Str("connection_id", c.ID).
			Str("type", string(req.Type)).
			Str("error", reply.Error).
			Msg("relay request failed")
	}

	data, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	c.trySend(data)
}
