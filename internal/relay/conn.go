// Package relay is the signaling relay: it owns the WebSocket lifecycle for
// every participant connection, binds connections to verified identities, and
// forwards point-to-point negotiation envelopes between them.
package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aveles/syncroom/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// wsConn is an indirection over *websocket.Conn to ease testing.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	Close() error
}

// Conn is one participant's signaling connection. Frames queued through
// TrySend leave in queue order; a full queue fails fast with ErrBackpressure
// instead of blocking the sender.
type Conn struct {
	id  string // unique per physical connection, not per identity
	ws  wsConn
	log zerolog.Logger

	// mu guards send and closed. Broadcasters and other read pumps hold
	// *Conn references obtained from the registry and may TrySend while a
	// disconnect or rebind displacement closes the queue; a bare close of
	// the channel would turn that race into a panic.
	mu     sync.Mutex
	send   chan core.Frame
	closed bool

	writeWait  time.Duration
	pingPeriod time.Duration
}

func newConn(id string, ws wsConn, buffer int, writeWait, pingPeriod time.Duration, log zerolog.Logger) *Conn {
	return &Conn{
		id:         id,
		ws:         ws,
		send:       make(chan core.Frame, buffer),
		log:        log,
		writeWait:  writeWait,
		pingPeriod: pingPeriod,
	}
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.ws.Close()
}

// writePump drains the send queue to the network and keeps the connection
// alive with pings. It exits when the queue closes or a write fails, closing
// the socket either way so the read side unblocks.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
				_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug().Err(err).Str("conn", c.id).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
