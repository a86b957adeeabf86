// Package worker is the background context: a state machine with named
// entry points for install, activate, fetch, push, click and messages.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dukerupert/fichador/internal/cache"
	"github.com/dukerupert/fichador/internal/intercept"
	"github.com/dukerupert/fichador/internal/notify"
	"github.com/dukerupert/fichador/internal/websocket"
)

// ErrInvalidState is returned when an entry point is called out of order.
var ErrInvalidState = errors.New("invalid worker state")

// Manifest is the fixed set of static assets installed into each generation.
var Manifest = []string{
	"/static/css/style.css",
	"/static/css/style.min.css",
	"/static/js/notifications.js",
	"/static/icon-128x128.png",
	"/static/icon-144x144.png",
	"/static/icon-180x180.png",
	"/static/icon-192x192.png",
	"/manifest.json",
}

type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	}
	return "unknown"
}

// Hub is the set of open views the worker controls.
type Hub interface {
	notify.Clients
	Broadcast(msg websocket.Message)
}

// Config wires a Worker.
type Config struct {
	Origin *url.URL
	Cache  *cache.Cache
	Engine *intercept.Engine
	Hub    Hub
	Logger *slog.Logger
}

type Worker struct {
	mu      sync.Mutex
	state   State
	timers  map[*time.Timer]struct{}
	closed  bool
	origin  *url.URL
	cache   *cache.Cache
	engine  *intercept.Engine
	hub     Hub
	fetcher *http.Client
	render  notify.Renderer
	router  *notify.ClickRouter
	now     func() time.Time
	logger  *slog.Logger
}

func New(cfg Config) *Worker {
	w := &Worker{
		timers: make(map[*time.Timer]struct{}),
		origin: cfg.Origin,
		cache:  cfg.Cache,
		engine: cfg.Engine,
		hub:    cfg.Hub,
		fetcher: &http.Client{
			Transport: cfg.Engine.Network(),
			Timeout:   30 * time.Second,
		},
		now:    time.Now,
		logger: cfg.Logger,
	}
	w.render = &hubRenderer{hub: cfg.Hub, logger: cfg.Logger}
	w.router = notify.NewClickRouter(cfg.Hub, w.render, cfg.Logger)
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Cache returns the worker's versioned cache.
func (w *Worker) Cache() *cache.Cache {
	return w.cache
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return fmt.Errorf("%w: %s, want %s", ErrInvalidState, w.state, from)
	}
	w.state = to
	return nil
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Install populates the current generation with the manifest. Individual
// asset failures do not fail the event.
func (w *Worker) Install(ctx context.Context) *ExtendableEvent {
	if err := w.transition(StateParsed, StateInstalling); err != nil {
		return failedEvent(ctx, err)
	}

	e := newEvent(ctx)
	e.WaitUntil(func(ctx context.Context) error {
		res, err := w.cache.Install(ctx, w.fetcher, w.origin, Manifest)
		if err != nil {
			w.setState(StateParsed)
			return fmt.Errorf("install: %w", err)
		}
		w.setState(StateInstalled)
		w.logger.Info("worker installed", "cache", w.cache.Current(), "stored", res.Stored, "failed", len(res.Failed))
		return nil
	})
	return e
}

// Activate deletes every other generation, then claims open views.
func (w *Worker) Activate(ctx context.Context) *ExtendableEvent {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return failedEvent(ctx, err)
	}

	e := newEvent(ctx)
	e.WaitUntil(func(ctx context.Context) error {
		deleted, err := w.cache.DeleteAllExcept(ctx, w.cache.Current())
		if err != nil {
			w.setState(StateInstalled)
			return fmt.Errorf("activate: %w", err)
		}
		w.setState(StateActivated)
		w.hub.Broadcast(websocket.Message{Type: websocket.TypeControllerChange, Cache: w.cache.Current()})
		w.logger.Info("worker activated", "cache", w.cache.Current(), "deleted", deleted)
		return nil
	})
	return e
}

// Fetch routes req through the interception engine once activated.
func (w *Worker) Fetch(req *http.Request) (*http.Response, error) {
	if w.State() != StateActivated {
		return w.engine.PassThrough(req)
	}
	return w.engine.Handle(req)
}

// RoundTrip makes the worker usable as a proxy transport.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	return w.Fetch(req)
}

// Push renders a delivered push payload. Malformed payloads render as text.
func (w *Worker) Push(ctx context.Context, data []byte, present bool) *ExtendableEvent {
	e := newEvent(ctx)
	e.WaitUntil(func(ctx context.Context) error {
		p := notify.Decode(data, present)
		d := notify.Normalize(p, w.now())
		w.logger.Debug("push received", "kind", p.Kind, "tag", d.Tag)
		if err := w.render.Show(ctx, d); err != nil {
			return fmt.Errorf("show notification: %w", err)
		}
		return nil
	})
	return e
}

// NotificationClick focuses or opens a view for d.
func (w *Worker) NotificationClick(ctx context.Context, d notify.Descriptor) *ExtendableEvent {
	e := newEvent(ctx)
	e.WaitUntil(func(ctx context.Context) error {
		return w.router.Route(ctx, d)
	})
	return e
}

// Message handles a message from a page.
func (w *Worker) Message(ctx context.Context, msg websocket.Message) error {
	switch msg.Type {
	case websocket.TypeScheduleNotification:
		return w.schedule(msg)
	case websocket.TypeShowNotification:
		if msg.Notification == nil {
			return fmt.Errorf("%s: missing notification", msg.Type)
		}
		return w.render.Show(ctx, *msg.Notification)
	case websocket.TypeNotificationClick:
		if msg.Notification == nil {
			return fmt.Errorf("%s: missing notification", msg.Type)
		}
		return w.NotificationClick(ctx, *msg.Notification).Wait()
	}
	w.logger.Debug("ignored message", "type", msg.Type)
	return nil
}

func (w *Worker) schedule(msg websocket.Message) error {
	delay := max(time.Duration(msg.Delay)*time.Millisecond, 0)
	title := msg.Title
	if title == "" {
		title = notify.DefaultTitle
	}
	tag := msg.Tag
	if tag == "" {
		tag = "scheduled"
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("schedule notification: %w: worker closed", ErrInvalidState)
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		w.mu.Lock()
		_, pending := w.timers[t]
		delete(w.timers, t)
		w.mu.Unlock()
		if !pending {
			return
		}

		d := notify.Local(title, msg.Body, tag, w.now().UnixMilli())
		if err := w.render.Show(context.Background(), d); err != nil {
			w.logger.Warn("show scheduled notification", "tag", tag, "error", err)
		}
	})
	w.timers[t] = struct{}{}
	w.logger.Info("notification scheduled", "tag", tag, "delay", delay)
	return nil
}

// Close cancels pending scheduled notifications.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for t := range w.timers {
		t.Stop()
		delete(w.timers, t)
	}
}

// Pending returns the number of scheduled notifications not yet shown.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}
