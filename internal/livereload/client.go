package livereload

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
	clientBuffer      = 8
)

// Message is the payload sent to browsers.
type Message struct {
	Type string `json:"type"`
	Kind Kind   `json:"kind"`
	Path string `json:"path,omitempty"`
}

// client is one connected browser tab. Messages are queued on send and
// written by a dedicated write loop.
type client struct {
	conn     *websocket.Conn
	send     chan Message
	done     chan struct{}
	stopOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan Message, clientBuffer),
		done: make(chan struct{}),
	}
}

// enqueue queues msg without blocking. A client whose queue is full has
// stopped reading and only needs the reload that is already pending.
func (c *client) enqueue(msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}

func (c *client) writeLoop() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))

			return
		}
	}
}

// readLoop drains incoming frames until the browser disconnects.
func (c *client) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
