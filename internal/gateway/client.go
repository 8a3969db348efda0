package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arenaclash/server/internal/logging"
	"arenaclash/server/internal/wire"
)

const sendQueueSize = 256

// ErrSendQueueFull is returned when a connection's outbound queue overflows.
// The broadcaster treats it as a drop, not a fatal condition.
var ErrSendQueueFull = errors.New("send queue full")

// client is one upgraded websocket connection with its outbound queue. The
// write pump is the only goroutine touching the underlying conn for writes.
type client struct {
	id      string
	subject string
	conn    *websocket.Conn
	send    chan wire.Frame
	log     *logging.Logger

	// ctx is cancelled on close so in-flight lookups die with the socket.
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(id, subject string, conn *websocket.Conn, log *logging.Logger) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		id:      id,
		subject: subject,
		conn:    conn,
		send:    make(chan wire.Frame, sendQueueSize),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		closed:  make(chan struct{}),
	}
}

// Send queues a frame without blocking. A closed connection or a full queue
// loses the frame; the caller decides whether that matters.
func (c *client) Send(frame wire.Frame) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.closed)
		_ = c.conn.Close()
	})
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with periodic pings. It owns the connection teardown on write errors.
func (c *client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.send:
			messageType := websocket.TextMessage
			if frame.Kind == wire.FrameBinary {
				messageType = websocket.BinaryMessage
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(pingInterval))
			if err := c.conn.WriteMessage(messageType, frame.Bytes); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(pingInterval))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError reports a recoverable failure back to this connection only.
func (c *client) sendError(message string) {
	frame, err := wire.Encode(wire.TypeMatchError, wire.MatchError{Error: message})
	if err != nil {
		c.log.Error("encode match error", logging.Error(err))
		return
	}
	if err := c.Send(frame); err != nil {
		c.log.Warn("drop match error reply", logging.Error(err))
	}
}

// reply sends a message to this connection only, outside the broadcast path.
func (c *client) reply(msgType string, payload any) {
	frame, err := wire.Encode(msgType, payload)
	if err != nil {
		c.log.Error("encode reply", logging.Error(err), logging.String("type", msgType))
		return
	}
	if err := c.Send(frame); err != nil {
		c.log.Warn("drop reply", logging.Error(err), logging.String("type", msgType))
	}
}
