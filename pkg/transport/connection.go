package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, msg []byte)

type OnCloseHandler func(err error)

type ConnConfig struct {
	// ReadTimeout bounds how long the peer may stay silent before the
	// connection is probed with a ping. A quiet push connection is
	// normal; only a missed pong counts as a dead peer.
	ReadTimeout time.Duration
}

// Conn represents a single, thread-safe WebSocket connection to the
// push server.
type Conn struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	logger *slog.Logger
}

func NewConn(parentCtx context.Context, conn *websocket.Conn, config ConnConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Conn {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()))

	return &Conn{
		id:        id,
		conn:      conn,
		logger:    connLogger,
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, 256), // Buffered channel
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
	}
}

func (c *Conn) Run() {
	go c.readPump()
	go c.writePump()
	go c.keepalive()

	c.logger.Info("connection established")
}

// readPump pumps messages from the WebSocket connection to the message
// handler. Reads are bounded by the connection context only: the server
// pushes on its own schedule and long silences are expected. Liveness
// is the keepalive goroutine's job.
func (c *Conn) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		typ, r, err := c.conn.Reader(c.ctx)
		if err != nil {
			readErr = err
			return
		}
		// Ensure we are only handling text or binary messages.
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		// Read the full message. Use io.ReadAll for safety.
		message, err := io.ReadAll(r)
		if err != nil {
			c.logger.Error("readpump failed reading frame", slog.Any("error", err))
			readErr = err
			return
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, message)
		}
	}
}

// keepalive probes the peer whenever the connection has been idle for
// ReadTimeout. Only a missed pong tears the connection down; the pong
// itself is consumed by the pending read in readPump.
func (c *Conn) keepalive() {
	interval := c.config.ReadTimeout
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(c.ctx, interval)
			err := c.conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				if c.ctx.Err() == nil {
					c.logger.Warn("keepalive ping went unanswered", slog.Any("error", err))
				}
				c.Close(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Conn) writePump() {
	var writeErr error

	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "request cancelled")
			return
		}
	}
}

// Send queues a message for delivery. It is safe for concurrent use and
// fire-and-forget: it never waits for a server acknowledgment.
func (c *Conn) Send(message []byte) {
	select {
	case c.send <- message:
	case <-c.ctx.Done():
		c.logger.Warn("Attempted to send on a closed connection")
	}
}

// Close gracefully shuts down the connection and its resources.
func (c *Conn) Close(err error) {
	c.closeOnce.Do(func() {
		status := websocket.CloseStatus(err)
		c.logger.Info("Transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		c.cancel() // Signal goroutines to stop.
		if c.conn != nil {
			c.conn.Close(websocket.StatusNormalClosure, "")
		}
		if c.onClose != nil {
			c.onClose(err)
		}
		close(c.done)
	})
}

// Done returns a channel that is closed when the connection is fully terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Conn) ID() uuid.UUID {
	return c.id
}
