// Package page is the foreground context: it starts the reminder monitor
// from the schedule feed, keeps the push subscription in sync, and runs the
// user's enable, disable and test actions.
package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/fichador/internal/feed"
	"github.com/dukerupert/fichador/internal/notify"
	"github.com/dukerupert/fichador/internal/reminder"
	"github.com/dukerupert/fichador/internal/subscription"
	"github.com/dukerupert/fichador/internal/websocket"
)

var ErrUnknownAction = errors.New("unknown action")

// User actions.
const (
	ActionEnable  = "enable"
	ActionDisable = "disable"
	ActionTest    = "test"
)

// Channel is the page's connection to the worker.
type Channel interface {
	Send(ctx context.Context, msg websocket.Message) error
	Receive(ctx context.Context, fn func(websocket.Message)) error
}

// Feed supplies the schedule snapshot.
type Feed interface {
	Fetch(ctx context.Context) (*feed.Snapshot, error)
}

// Subscriptions is the push subscription lifecycle.
type Subscriptions interface {
	Subscribe(ctx context.Context) (*webpush.Subscription, error)
	Unsubscribe(ctx context.Context) error
	SendTest(ctx context.Context) error
	Resync(ctx context.Context) error
}

type Config struct {
	Registration  subscription.Registration
	Permissions   *subscription.Permissions
	Subscriptions Subscriptions
	Feed          Feed
	Ledger        *reminder.Ledger
	// Channel may be nil, in which case local notifications are dropped.
	Channel Channel
	// RefreshSpec is a standard cron expression for feed refreshes.
	RefreshSpec string
	// ReadyBackoff paces the wait for the worker. Defaults to exponential
	// from 250ms, capped at 5s, for at most 6 retries.
	ReadyBackoff func() retry.Backoff
	Logger       *slog.Logger
}

// Controller runs the page startup sequence and owns the reminder monitor.
type Controller struct {
	registration  subscription.Registration
	permissions   *subscription.Permissions
	subscriptions Subscriptions
	feed          Feed
	channel       Channel
	monitor       *reminder.Monitor
	refreshSpec   string
	readyBackoff  func() retry.Backoff
	logger        *slog.Logger
	now           func() time.Time

	mu    sync.Mutex
	ready bool
}

func New(cfg Config) *Controller {
	c := &Controller{
		registration:  cfg.Registration,
		permissions:   cfg.Permissions,
		subscriptions: cfg.Subscriptions,
		feed:          cfg.Feed,
		channel:       cfg.Channel,
		refreshSpec:   cfg.RefreshSpec,
		readyBackoff:  cfg.ReadyBackoff,
		logger:        cfg.Logger,
		now:           time.Now,
	}
	if c.refreshSpec == "" {
		c.refreshSpec = "*/15 * * * *"
	}
	if c.readyBackoff == nil {
		c.readyBackoff = defaultReadyBackoff
	}
	c.monitor = reminder.NewMonitor(cfg.Ledger, c, cfg.Logger.With("component", "monitor"))
	return c
}

// Monitor exposes the reminder monitor.
func (c *Controller) Monitor() *reminder.Monitor {
	return c.monitor
}

// Ready reports whether the worker answered during Init.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Init waits for the worker, asks for notification permission if it was
// never answered, re-syncs an existing subscription and starts the monitor.
// Only context cancellation is returned; every other failure is logged.
func (c *Controller) Init(ctx context.Context) error {
	if err := c.waitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error("worker not ready", "error", err)
	} else {
		c.setReady(true)
		c.requestPermission(ctx)
		if err := c.subscriptions.Resync(ctx); err != nil && !errors.Is(err, subscription.ErrUnsupported) {
			c.logger.Warn("subscription resync failed", "error", err)
		}
	}

	c.Refresh(ctx)
	return ctx.Err()
}

func (c *Controller) waitReady(ctx context.Context) error {
	return retry.Do(ctx, c.readyBackoff(), func(ctx context.Context) error {
		if err := c.registration.Ready(ctx); err != nil {
			c.logger.Debug("waiting for worker", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

func defaultReadyBackoff() retry.Backoff {
	return retry.WithMaxRetries(6, retry.WithCappedDuration(5*time.Second, retry.NewExponential(250*time.Millisecond)))
}

func (c *Controller) setReady(v bool) {
	c.mu.Lock()
	c.ready = v
	c.mu.Unlock()
}

func (c *Controller) requestPermission(ctx context.Context) {
	perm, err := c.permissions.Get()
	if err != nil {
		c.logger.Warn("read permission", "error", err)
		return
	}
	if perm != subscription.PermissionDefault {
		return
	}
	perm, err = c.permissions.Request(ctx)
	if err != nil {
		c.logger.Warn("permission request failed", "error", err)
		return
	}
	c.logger.Info("notification permission", "permission", perm)
}

// Refresh re-fetches the feed and restarts the monitor. When the session is
// gone the monitor is stopped without noise. Any other feed failure keeps the
// running snapshot.
func (c *Controller) Refresh(ctx context.Context) {
	snap, err := c.feed.Fetch(ctx)
	if err != nil {
		if errors.Is(err, feed.ErrNotLoggedIn) {
			c.monitor.Stop()
			c.logger.Debug("not logged in, monitor stopped")
			return
		}
		c.logger.Warn("schedule feed unavailable, keeping current schedule", "error", err, "running", c.monitor.Running())
		return
	}
	c.monitor.Start(ctx, snap.Schedules, snap.HasActiveRecord)
}

// Notify asks the worker to show a local notification. It is skipped unless
// permission is granted and the worker is connected.
func (c *Controller) Notify(ctx context.Context, title, body, tag string) error {
	perm, err := c.permissions.Get()
	if err != nil {
		return fmt.Errorf("read permission: %w", err)
	}
	if perm != subscription.PermissionGranted || c.channel == nil {
		c.logger.Debug("local notification skipped", "tag", tag, "permission", perm)
		return nil
	}

	d := notify.Local(title, body, tag, c.now().UnixMilli())
	if err := c.channel.Send(ctx, websocket.Message{Type: websocket.TypeShowNotification, Notification: &d}); err != nil {
		c.logger.Warn("show notification failed", "tag", tag, "error", err)
	}
	return nil
}

// Action runs one of the user actions.
func (c *Controller) Action(ctx context.Context, action string) error {
	switch action {
	case ActionEnable:
		_, err := c.subscriptions.Subscribe(ctx)
		return err
	case ActionDisable:
		return c.subscriptions.Unsubscribe(ctx)
	case ActionTest:
		return c.subscriptions.SendTest(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// Run initialises the page, then refreshes the feed on the cron schedule and
// logs what the worker sends back, until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	sched := cron.New(cron.WithLocation(time.Local))
	if _, err := sched.AddFunc(c.refreshSpec, func() { c.Refresh(ctx) }); err != nil {
		return fmt.Errorf("schedule feed refresh: %w", err)
	}

	if c.channel != nil {
		go func() {
			if err := c.channel.Receive(ctx, c.handleMessage); err != nil {
				c.logger.Warn("worker channel closed", "error", err)
			}
		}()
	}

	if err := c.Init(ctx); err != nil {
		c.monitor.Stop()
		return nil
	}

	sched.Start()
	c.logger.Info("page running", "refresh", c.refreshSpec)

	<-ctx.Done()
	<-sched.Stop().Done()
	c.monitor.Stop()
	return nil
}

func (c *Controller) handleMessage(msg websocket.Message) {
	switch msg.Type {
	case websocket.TypeNotification:
		if msg.Notification == nil {
			return
		}
		c.logger.Info("notification shown",
			"title", msg.Notification.Title,
			"body", msg.Notification.Body,
			"tag", msg.Notification.Tag,
		)
	case websocket.TypeFocus:
		c.logger.Info("focus requested", "url", msg.URL)
	case websocket.TypeControllerChange:
		c.logger.Info("worker activated", "cache", msg.Cache)
	default:
		c.logger.Debug("worker message", "type", msg.Type)
	}
}
