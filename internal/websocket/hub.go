package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"

	"github.com/dukerupert/fichador/internal/notify"
)

// MessageHandler receives messages pages send to the worker.
type MessageHandler func(ctx context.Context, c *Client, msg Message)

// Opener opens a new view at an absolute URL.
type Opener func(ctx context.Context, url string) error

// Hub maintains the set of open page views. It implements notify.Clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]uint64 // registration sequence
	nextSeq uint64
	base    *url.URL
	opener  Opener
	handler MessageHandler
	logger  *slog.Logger
}

// NewHub creates a hub. base resolves relative targets for OpenWindow.
func NewHub(base *url.URL, opener Opener, logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]uint64),
		base:    base,
		opener:  opener,
		logger:  logger,
	}
}

// OnMessage sets the handler for page messages other than location updates.
func (h *Hub) OnMessage(fn MessageHandler) {
	h.mu.Lock()
	h.handler = fn
	h.mu.Unlock()
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.nextSeq++
	h.clients[c] = h.nextSeq
	h.mu.Unlock()
	h.logger.Debug("client connected", "url", c.URL())
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) dispatch(ctx context.Context, c *Client, msg Message) {
	switch msg.Type {
	case TypeHello, TypeNavigate:
		if msg.URL != "" {
			c.setURL(msg.URL)
		}
		return
	}

	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	if handler == nil {
		h.logger.Debug("unhandled client message", "type", msg.Type)
		return
	}
	handler(ctx, c, msg)
}

// Send queues msg for one client.
func (h *Hub) Send(c *Client, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c]; !ok {
		return ErrClientGone
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrClientGone
	}
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop the message
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MatchAll returns every open view, oldest connection first.
func (h *Hub) MatchAll(ctx context.Context) ([]notify.Client, error) {
	h.mu.RLock()
	ordered := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return h.clients[ordered[i]] < h.clients[ordered[j]]
	})
	h.mu.RUnlock()

	out := make([]notify.Client, len(ordered))
	for i, c := range ordered {
		out[i] = c
	}
	return out, nil
}

// OpenWindow opens a new view at target, resolved against the hub's base.
func (h *Hub) OpenWindow(ctx context.Context, target string) error {
	if h.opener == nil {
		return fmt.Errorf("open window: no opener configured")
	}
	ref, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse target: %w", err)
	}
	abs := ref.String()
	if h.base != nil {
		abs = h.base.ResolveReference(ref).String()
	}
	return h.opener(ctx, abs)
}
