package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chessmate/backend/internal/auth"
)

const (
	writeWait  = 10 * time.Second
	maxMsgSize = 64 * 1024
	sendBuffer = 64
)

var ErrSendBufferFull = errors.New("gateway: send buffer full")

// Client is one WebSocket connection. All writes go through the send
// and ping channels into writePump; readPump is the only reader. This
// keeps every conn method single-goroutine.
type Client struct {
	gw   *Gateway
	id   string
	conn *websocket.Conn

	send chan []byte
	ping chan struct{}
	done chan struct{}
	once sync.Once

	mu   sync.RWMutex
	user auth.User

	authed atomic.Bool
	alive  atomic.Bool
	open   atomic.Bool
}

func newClient(gw *Gateway, id string, conn *websocket.Conn) *Client {
	c := &Client{
		gw:   gw,
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		ping: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	c.open.Store(true)
	c.alive.Store(true)
	return c
}

// UserID returns the authenticated user id, empty before auth.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user.ID
}

func (c *Client) setUser(u auth.User) {
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
	c.authed.Store(true)
}

// Open reports whether the connection is still registered.
func (c *Client) Open() bool { return c.open.Load() }

// Send marshals v and queues it for the write pump. A full buffer drops
// the frame rather than block the caller.
func (c *Client) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return errors.New("gateway: connection closed")
	default:
		return ErrSendBufferFull
	}
}

// closeWith sends a close frame with the given code and tears the
// connection down. WriteControl is safe alongside writePump.
func (c *Client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.shutdown()
}

// shutdown tears the connection down exactly once and unregisters it.
func (c *Client) shutdown() {
	c.once.Do(func() {
		c.open.Store(false)
		close(c.done)
		c.conn.Close()
		c.gw.unregister(c)
	})
}

// writePump serializes all data and ping writes to the connection.
func (c *Client) writePump() {
	defer c.shutdown()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			// Flush whatever queued behind this frame.
			for n := len(c.send); n > 0; n-- {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
		case <-c.ping:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump reads frames and hands them to the gateway router. Pongs
// restore the liveness flag the heartbeat sweep cleared.
func (c *Client) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.gw.log.Warn("websocket read failed", "conn", c.id, "error", err)
			}
			return
		}
		c.gw.handleFrame(c, payload)
	}
}

func (c *Client) requestPing() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}
