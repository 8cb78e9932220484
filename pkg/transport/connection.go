// Package transport wraps one WebSocket session behind read/write pumps so
// the rest of the system sees an opaque handle with a fire-and-forget Send.
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

// MessageHandler is invoked for each inbound frame, on the read pump
// goroutine, so frames from one connection are handled in order.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

// OnCloseHandler is invoked exactly once when the connection tears down.
type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Connection is a single live WebSocket session. All methods are safe for
// concurrent use.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)

	// Joined at construction, released in Close: a connection can be closed by
	// a superseding session before Run ever starts its pumps.
	wg.Add(1)

	return &Connection{
		id:     id,
		conn:   conn,
		config: config,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		ctx:    connCtx,
		cancel: cancel,
		wg:     wg,
		logger: logger.With(slog.String("connID", id.String())),
	}
}

// Run starts the pumps. Handlers must be set before calling it.
func (c *Connection) Run() {
	go c.readPump()
	go c.writePump()
	c.logger.Debug("connection pumps started")
}

// readPump delivers inbound frames to the message handler until the peer goes
// away, a read times out, or the connection context is cancelled.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := context.WithTimeout(c.ctx, c.config.ReadTimeout)
		typ, r, err := c.conn.Reader(readCtx)
		if err != nil {
			cancelRead()
			readErr = err
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			cancelRead()
			continue
		}
		message, err := io.ReadAll(r)
		cancelRead()
		if err != nil {
			readErr = err
			return
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.id, message)
		}
	}
}

// writePump drains the send queue onto the socket.
func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			writeCtx, cancelWrite := context.WithTimeout(c.ctx, c.config.WriteTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancelWrite()
			if err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		}
	}
}

// Send queues a message for delivery. It never blocks: if the connection is
// closed or its queue is full the message is dropped, because one slow or
// dead recipient must not stall a broadcast.
func (c *Connection) Send(message []byte) {
	select {
	case <-c.ctx.Done():
		c.logger.Warn("dropping message for closed connection")
		return
	default:
	}
	select {
	case c.send <- message:
	default:
		c.logger.Warn("dropping message for slow connection", slog.Int("queued", len(c.send)))
	}
}

// Close tears the connection down exactly once and reports it upstream.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.logger.Debug("connection closing", slog.Any("reason", err))
		c.cancel()
		if c.conn != nil {
			c.conn.Close(websocket.StatusNormalClosure, "")
		}
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// Done is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID is the process-local identifier for this session.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
