package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBuffer   = 64
	pingInterval = 25 * time.Second
)

// Client is one websocket connection. Writes go through the buffered send
// channel and a single writer goroutine; a slow reader gets dropped frames
// rather than blocking the broadcast path.
type Client struct {
	UserID string
	Name   string

	// identity is the media-transport participant handle, set when the
	// client joins a room. Guarded by the hub's lock like room membership.
	identity string

	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, userID, name string) *Client {
	return &Client{
		UserID: userID,
		Name:   name,
		ws:     conn,
		send:   make(chan []byte, sendBuffer),
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// writeLoop drains the send channel and keeps the connection alive with
// pings. Runs until the channel is closed.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.WriteMessage(websocket.TextMessage, msg)
		case <-ticker.C:
			_ = c.ws.WriteMessage(websocket.PingMessage, []byte{})
		}
	}
}

func (c *Client) enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
		// drop frame for a reader that cannot keep up
	}
}
