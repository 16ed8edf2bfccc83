package hub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/foundryhub/internal/ratelimit"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendQueueSize = 256
)

var (
	// ErrConnClosed is returned by Send after the client has been closed.
	ErrConnClosed = errors.New("hub: connection closed")
	// ErrSendQueueFull is returned by Send when the outbound queue has no room.
	ErrSendQueueFull = errors.New("hub: send queue full")
)

// State is the lifecycle phase of a Client.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClientOptions tune a single WebSocket client.
type ClientOptions struct {
	// MaxMessageSize caps inbound frames in bytes. Zero leaves the
	// gorilla/websocket default.
	MaxMessageSize int64
	// ThrottleBurst and ThrottleInterval bound inbound frames per connection.
	// A non-positive burst disables throttling.
	ThrottleBurst    int
	ThrottleInterval time.Duration
}

// Client is a WebSocket connection registered with the hub. Outbound
// payloads are queued by Send and written by a dedicated pump goroutine, one
// payload per frame.
type Client struct {
	id         uuid.UUID
	conn       *websocket.Conn
	hub        *Hub
	dispatcher *Dispatcher
	throttle   *ratelimit.Bucket
	addr       string
	logger     *slog.Logger

	maxMessageSize int64

	mu    sync.Mutex
	state State
	send  chan []byte
}

// NewClient wraps conn with a fresh identity. conn may be nil in tests that
// only exercise the queue.
func NewClient(conn *websocket.Conn, h *Hub, d *Dispatcher, addr string, opts ClientOptions, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if conn != nil && opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}

	var throttle *ratelimit.Bucket
	if opts.ThrottleBurst > 0 {
		throttle = ratelimit.NewBucket(opts.ThrottleBurst, opts.ThrottleInterval)
	}

	id := uuid.New()
	return &Client{
		id:             id,
		conn:           conn,
		hub:            h,
		dispatcher:     d,
		throttle:       throttle,
		addr:           addr,
		logger:         logger.With("client_id", id, "addr", addr),
		maxMessageSize: opts.MaxMessageSize,
		state:          StateConnecting,
		send:           make(chan []byte, sendQueueSize),
	}
}

// ID returns the client's identity.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// State returns the client's lifecycle phase.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

// Send queues payload for delivery without blocking.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return ErrConnClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops accepting payloads and tells the write pump to send a close
// frame. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	close(c.send)
	return nil
}

// Run registers the client, greets it and serves it until the peer goes away
// or ctx is cancelled. On return the client is unregistered and its socket is
// closed.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.hub.Register(c)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.writePump()
	}()

	stop := context.AfterFunc(ctx, func() {
		c.closeConnection()
	})
	defer stop()

	c.setState(StateOpen)
	if err := c.dispatcher.Welcome(c.id); err != nil {
		c.logger.Warn("client: welcome failed", "err", err)
	}

	c.readPump(ctx)

	if !c.hub.Unregister(c.id) {
		_ = c.Close()
	}
	<-pumpDone
	c.closeConnection()
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug("client: set read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Client) readPump(ctx context.Context) {
	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if c.throttle != nil && !c.throttle.Allow() {
			c.logger.Debug("client: frame throttled")
			c.dispatcher.replyError(c.id, "Rate limit exceeded: message discarded")
			continue
		}

		c.dispatcher.Dispatch(ctx, c.id, raw)
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("client: message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.logger.Info("client: disconnected", "reason", err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Info("client: connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.logger.Warn("client: unexpected close", "err", err)
	default:
		c.logger.Debug("client: read error", "err", err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.writeClose()
				return
			}
			if !c.write(websocket.TextMessage, payload) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("client: set write deadline", "err", err)
		return false
	}
	if err := c.conn.WriteMessage(messageType, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("client: write failed", "err", err)
		}
		return false
	}
	return true
}

func (c *Client) writeClose() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("client: write close frame", "err", err)
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("client: close socket", "err", err)
	}
}
