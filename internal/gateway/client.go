package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"tutorhub/internal/wire"
)

// Client is one live websocket connection belonging to one user. It
// satisfies presence.Conn: Send is best-effort and never blocks, and a
// slow consumer whose buffer fills is closed rather than stalling the
// fan-out.
type Client struct {
	conn      *websocket.Conn
	userID    string
	send      chan any
	done      chan struct{}
	closeOnce sync.Once
	onEvent   func(*Client, wire.Inbound)
	onClose   func(*Client)
	log       *slog.Logger
}

func NewClient(conn *websocket.Conn, userID string, onEvent func(*Client, wire.Inbound), onClose func(*Client), log *slog.Logger) *Client {
	return &Client{
		conn:    conn,
		userID:  userID,
		send:    make(chan any, 256),
		done:    make(chan struct{}),
		onEvent: onEvent,
		onClose: onClose,
		log:     log,
	}
}

func (c *Client) UserID() string { return c.userID }

// Send queues an outbound frame. Dropping happens silently when the
// connection is already closed; a full buffer closes the connection.
func (c *Client) Send(v any) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- v:
	case <-c.done:
	default:
		c.Close()
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump consumes inbound frames until the connection drops, then
// deregisters the client. Run as a goroutine per connection.
func (c *Client) ReadPump() {
	defer func() {
		if c.onClose != nil {
			c.onClose(c)
		}
		c.Close()
		if err := c.conn.Close(); err != nil {
			c.log.Debug("failed to close websocket connection", "error", err)
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", "user", c.userID, "error", err)
			}
			return
		}

		var in wire.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.log.Warn("invalid websocket payload", "user", c.userID, "error", err)
			continue
		}
		if c.onEvent != nil {
			c.onEvent(c, in)
		}
	}
}

// WritePump serializes outbound frames onto the connection.
func (c *Client) WritePump() {
	defer func() {
		if err := c.conn.Close(); err != nil {
			c.log.Debug("failed to close websocket connection", "error", err)
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case v := <-c.send:
			if err := c.conn.WriteJSON(v); err != nil {
				c.Close()
				return
			}
		}
	}
}
