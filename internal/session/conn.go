package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrConnClosed is returned when sending to a connection that has gone away.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned when a client cannot keep up with outbound traffic.
	ErrSendQueueFull = errors.New("send queue full")
)

// Conn is a live duplex connection to one client. Send must not block: it
// queues the frame or reports the connection as dead.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close(code int, reason string)
}

// ConnOptions tunes WebSocket connections.
type ConnOptions struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = o.PingInterval * 2
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	return o
}

// wsConn adapts a gorilla WebSocket to Conn. All data frames and pings are
// written by a single writer goroutine; Close may be called from anywhere.
type wsConn struct {
	id     string
	ws     *websocket.Conn
	opts   ConnOptions
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	onDead    func()
}

func newWSConn(ws *websocket.Conn, opts ConnOptions, logger *slog.Logger, onDead func(Conn)) *wsConn {
	c := &wsConn{
		id:     "ws--" + uuid.NewString(),
		ws:     ws,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	c.onDead = func() { onDead(c) }
	go c.writePump()
	return c
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

func (c *wsConn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.opts.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "conn_id", c.id, "error", err)
				c.onDead()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.logger.Debug("ping failed", "conn_id", c.id, "error", err)
				c.onDead()
				return
			}
		}
	}
}
