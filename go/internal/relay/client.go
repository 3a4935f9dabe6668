package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/fichas-one/fichas/go/internal/store"
)

// Client is a store.Store served by a remote hub.
type Client struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan Frame
	watchers map[int]chan store.Snapshot
	nextID   int
	closed   bool

	done chan struct{}
}

// Dial connects to a hub at url, e.g. ws://localhost:8080/ws.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay %s: %w", url, err)
	}

	c := &Client{
		conn:         conn,
		writeTimeout: DefaultConnectionConfig().WriteTimeout,
		pending:      make(map[string]chan Frame),
		watchers:     make(map[int]chan store.Snapshot),
		done:         make(chan struct{}),
	}
	go c.readLoop()

	log.Info().Str("url", url).Msg("connected to relay")
	return c, nil
}

// GetAll implements store.Store.
func (c *Client) GetAll(ctx context.Context) (store.Snapshot, error) {
	reply, err := c.request(ctx, Frame{Type: FrameGetAll})
	if err != nil {
		return nil, err
	}
	if reply.Snapshot == nil {
		return store.Snapshot{}, nil
	}
	return reply.Snapshot, nil
}

// Set implements store.Store.
func (c *Client) Set(ctx context.Context, patch store.Patch) error {
	_, err := c.request(ctx, Frame{Type: FrameSet, Patch: patch})
	return err
}

// Watch implements store.Store.
func (c *Client) Watch(ctx context.Context) (<-chan store.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, store.ErrClosed
	}

	id := c.nextID
	c.nextID++
	ch := make(chan store.Snapshot, store.WatchBuffer)
	c.watchers[id] = ch

	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if w, ok := c.watchers[id]; ok {
			close(w)
			delete(c.watchers, id)
		}
	}()
	return ch, nil
}

// Close closes the connection. Pending requests fail with store.ErrClosed.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) request(ctx context.Context, frame Frame) (Frame, error) {
	frame.ID = uuid.NewString()
	replyCh := make(chan Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Frame{}, store.ErrClosed
	}
	c.pending[frame.ID] = replyCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, frame.ID)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(frame)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %s request: %w", frame.Type, err)
	}

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return Frame{}, fmt.Errorf("failed to send %s request: %w", frame.Type, err)
	}

	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.done:
		return Frame{}, store.ErrClosed
	case reply := <-replyCh:
		if reply.Error != "" {
			return reply, fmt.Errorf("%w: %s", ErrRemote, reply.Error)
		}
		return reply, nil
	}
}

func (c *Client) readLoop() {
	defer c.shutdown()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("relay connection lost")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Warn().Err(err).Msg("invalid relay frame")
			continue
		}

		switch frame.Type {
		case FrameReply:
			c.mu.Lock()
			ch, ok := c.pending[frame.ID]
			c.mu.Unlock()
			if ok {
				ch <- frame
			}
		case FrameSnapshot:
			snap := frame.Snapshot
			if snap == nil {
				snap = store.Snapshot{}
			}
			c.mu.Lock()
			for _, w := range c.watchers {
				store.Offer(w, snap.Clone())
			}
			c.mu.Unlock()
		default:
			log.Warn().Str("type", string(frame.Type)).Msg("unexpected relay frame")
		}
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	c.closed = true
	for id, w := range c.watchers {
		close(w)
		delete(c.watchers, id)
	}
	c.mu.Unlock()
	close(c.done)
}
