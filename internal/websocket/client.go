package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// ErrClientGone is returned when sending to a client that has disconnected
// or cannot keep up.
var ErrClientGone = errors.New("client not connected")

// Client is one open page view.
type Client struct {
	hub  *Hub
	conn *ws.Conn
	send chan []byte

	mu  sync.RWMutex
	url string
}

// NewClient creates a Client tied to the given hub and connection. url is
// the view's location at connect time.
func NewClient(hub *Hub, conn *ws.Conn, url string) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		url:  url,
	}
}

// URL returns the view's current location.
func (c *Client) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

func (c *Client) setURL(url string) {
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()
}

// Focus asks the view to bring itself to the front.
func (c *Client) Focus(ctx context.Context) error {
	return c.hub.Send(c, Message{Type: TypeFocus, URL: c.URL()})
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump decodes incoming messages. Location updates are applied here;
// everything else goes to the hub's handler.
func (c *Client) readPump(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Warn("decode client message", "error", err)
			continue
		}
		c.hub.dispatch(ctx, c, msg)
	}
}

// writePump drains the send channel and writes messages to the WebSocket.
// It also sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				// Hub closed the channel, connection is done
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
