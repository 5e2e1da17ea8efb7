package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/gorilla/websocket"
)

// ErrSendBufferFull is returned when a client's outbound buffer is saturated.
// The hub treats it as a drop, not a fatal error.
var ErrSendBufferFull = errors.New("send buffer full")

// ClientConfig tunes a WebSocket client's pumps
type ClientConfig struct {
	SendBufferSize int
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultClientConfig returns production defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SendBufferSize: 256,
		MaxMessageSize: 64 * 1024,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// MessageHandler processes one inbound message from a client
type MessageHandler func(ctx context.Context, client *Client, message []byte)

// CloseHandler runs once when the client's read pump exits
type CloseHandler func(client *Client)

// Client wraps one WebSocket connection with buffered writes and ping/pong
// keepalive. It implements Transport for the hub.
type Client struct {
	ConnectionID string
	UserID       string

	conn      *websocket.Conn
	send      chan []byte
	cfg       ClientConfig
	logger    ectologger.Logger
	onMessage MessageHandler
	onClose   CloseHandler

	closeOnce chan struct{}
}

// NewClient creates a client around an upgraded connection. The caller must
// start ReadPump and WritePump on their own goroutines.
func NewClient(conn *websocket.Conn, connectionID, userID string, cfg ClientConfig, logger ectologger.Logger, onMessage MessageHandler, onClose CloseHandler) *Client {
	if cfg.SendBufferSize <= 0 {
		cfg = DefaultClientConfig()
	}
	return &Client{
		ConnectionID: connectionID,
		UserID:       userID,
		conn:         conn,
		send:         make(chan []byte, cfg.SendBufferSize),
		cfg:          cfg,
		logger:       logger,
		onMessage:    onMessage,
		onClose:      onClose,
		closeOnce:    make(chan struct{}),
	}
}

// Send queues a message for delivery. Non-blocking: a full buffer means the
// consumer is too slow and the message is dropped.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.closeOnce:
		return websocket.ErrCloseSent
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the connection down. Safe to call multiple times.
func (c *Client) Close() error {
	select {
	case <-c.closeOnce:
		return nil
	default:
		close(c.closeOnce)
	}
	return c.conn.Close()
}

// ReadPump reads inbound messages until the connection dies, then invokes the
// close handler. Runs on its own goroutine, one per connection.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		if c.onClose != nil {
			c.onClose(c)
		}
		_ = c.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).WithField("connection_id", c.ConnectionID).Warn("WebSocket read error")
			}
			return
		}

		if c.onMessage != nil {
			c.onMessage(ctx, c, message)
		}
	}
}

// WritePump drains the send buffer to the socket and keeps the connection
// alive with pings. Runs on its own goroutine, one per connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeOnce:
			return
		}
	}
}
