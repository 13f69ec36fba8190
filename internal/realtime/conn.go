// Package realtime is the live WebSocket transport. Each connection gets one
// read goroutine, which dispatches that user's events in order, and one
// write goroutine fed by a bounded queue.
package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/tandem/internal/proto"
)

var log = logging.Logger("realtime")

var (
	ErrConnClosed   = errors.New("realtime: connection closed")
	ErrSlowConsumer = errors.New("realtime: send queue full")
)

// Options tunes per-connection limits.
type Options struct {
	SendQueue     int
	MaxFrameBytes int64
	WriteTimeout  time.Duration
	PingInterval  time.Duration

	// Inbound events allowed per minute. 0 disables the limit.
	EventsPerMinute       int
	GlobalEventsPerMinute int
}

func (o Options) withDefaults() Options {
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 64 << 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	return o
}

// Conn is one live client connection bound to a user identity.
type Conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	opts   Options

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, userID string, opts Options) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		opts:   opts,
		send:   make(chan []byte, opts.SendQueue),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send queues an event for delivery without blocking. A client that lets
// its queue fill up is disconnected and ErrSlowConsumer is returned.
func (c *Conn) Send(event string, payload any) error {
	b, err := proto.Encode(event, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		log.Warnf("RT: %s (%s) send queue full, disconnecting", c.userID, c.id)
		c.Close()
		return ErrSlowConsumer
	}
}

// Close stops the connection. Frames already queued are flushed before the
// close frame, bounded by the write timeout. Safe to call more than once
// and from any goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) pongWait() time.Duration {
	return 2 * c.opts.PingInterval
}

// writePump owns all writes to the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case b := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debugf("RT: write to %s failed: %v", c.userID, err)
				c.Close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debugf("RT: ping to %s failed: %v", c.userID, err)
				c.Close()
				return
			}
		case <-c.done:
			if !c.flush() {
				return
			}
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

// flush writes whatever is still queued. It reports false if the socket
// failed.
func (c *Conn) flush() bool {
	for {
		select {
		case b := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return false
			}
		default:
			return true
		}
	}
}

// readPump reads frames until the socket fails and hands each text frame to
// handle on this goroutine.
func (c *Conn) readPump(handle func(*Conn, []byte)) {
	c.ws.SetReadLimit(c.opts.MaxFrameBytes)
	c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Infof("RT: %s read error: %v", c.userID, err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		handle(c, data)
	}
}
