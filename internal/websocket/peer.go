package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	ws "github.com/coder/websocket"
)

// Peer is a page's end of the channel to the worker.
type Peer struct {
	conn *ws.Conn
	mu   sync.Mutex
}

// Dial connects to the worker at workerURL, announcing the page location
// viewURL.
func Dial(ctx context.Context, workerURL, viewURL string) (*Peer, error) {
	u, err := url.Parse(strings.TrimRight(workerURL, "/") + "/_sw/clients")
	if err != nil {
		return nil, fmt.Errorf("parse worker url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("url", viewURL)
	u.RawQuery = q.Encode()

	conn, _, err := ws.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial worker: %w", err)
	}
	p := &Peer{conn: conn}
	if err := p.Send(ctx, Message{Type: TypeHello, URL: viewURL}); err != nil {
		conn.CloseNow()
		return nil, err
	}
	return p, nil
}

// Send writes one message to the worker.
func (p *Peer) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.Write(ctx, ws.MessageText, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Receive calls fn for every message the worker sends until ctx is done or
// the connection closes.
func (p *Peer) Receive(ctx context.Context, fn func(Message)) error {
	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		fn(msg)
	}
}

func (p *Peer) Close() error {
	return p.conn.Close(ws.StatusNormalClosure, "")
}
