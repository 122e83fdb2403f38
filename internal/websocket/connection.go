package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultSendBuffer   = 100
	DefaultWriteTimeout = 5 * time.Second
)

type closeRequest struct {
	code   int
	reason string
}

// Connection implements interfaces.Connection over a gorilla socket.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so a single
// writer goroutine owns the socket and everything else enqueues frames
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan []byte
	pingCh       chan struct{}
	closeCh      chan closeRequest
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps ws and starts its writer. bufferSize bounds the
// outbound queue; a full queue means the client is too slow and gets dropped.
func NewConnection(ws *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBuffer
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		conn:         ws,
		writeCh:      make(chan []byte, bufferSize),
		pingCh:       make(chan struct{}, 1),
		closeCh:      make(chan closeRequest, 1),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) ID() string { return c.id }

// Send enqueues one frame without blocking.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- frame:
		return nil
	default:
		// FUNCTIONAL DISCOVERY: a client that cannot keep up is disconnected
		// rather than allowed to stall the class broadcast
		_ = c.Close()
		return ErrSendBufferFull
	}
}

// Ping asks the writer to emit a protocol ping. A ping already pending is enough.
func (c *Connection) Ping() error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}
	select {
	case c.pingCh <- struct{}{}:
	default:
	}
	return nil
}

func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Close tears the socket down immediately. Queued frames are discarded.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// CloseAfterFlush writes every frame queued so far, then a close frame with
// code and reason, then closes the socket.
func (c *Connection) CloseAfterFlush(code int, reason string) {
	select {
	case c.closeCh <- closeRequest{code: code, reason: reason}:
	default:
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.pingCh:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = c.Close()
				return
			}

		case req := <-c.closeCh:
			c.flush()
			deadline := time.Now().Add(c.writeTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(req.code, req.reason), deadline)
			_ = c.Close()
			return

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) flush() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	// TECHNICAL DISCOVERY: a write deadline keeps one stuck client from
	// pinning its writer goroutine forever
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
