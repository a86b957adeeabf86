package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Client is an open view of the application.
type Client interface {
	URL() string
	Focus(ctx context.Context) error
}

// Clients enumerates open views and opens new ones.
type Clients interface {
	MatchAll(ctx context.Context) ([]Client, error)
	OpenWindow(ctx context.Context, target string) error
}

// ClickRouter focuses or opens a view when a notification is clicked.
type ClickRouter struct {
	clients  Clients
	renderer Renderer
	logger   *slog.Logger
}

func NewClickRouter(clients Clients, renderer Renderer, logger *slog.Logger) *ClickRouter {
	return &ClickRouter{clients: clients, renderer: renderer, logger: logger}
}

// MatchesView reports whether an open view at clientURL can show target.
// The match is loose on purpose: client-side routing presents the same
// logical view under several URLs.
func MatchesView(clientURL, target string) bool {
	if strings.Contains(clientURL, target) || strings.Contains(clientURL, DashboardURL) {
		return true
	}
	u, err := url.Parse(clientURL)
	return err == nil && (u.Path == "" || u.Path == "/")
}

// Route closes the notification, then focuses the first matching view or
// opens a new one at the notification's target.
func (r *ClickRouter) Route(ctx context.Context, d Descriptor) error {
	if err := r.renderer.Close(ctx, d.Tag); err != nil {
		r.logger.Warn("close notification", "tag", d.Tag, "error", err)
	}

	target := d.URL()

	views, err := r.clients.MatchAll(ctx)
	if err != nil {
		r.logger.Warn("list client views", "error", err)
	}
	for _, v := range views {
		if MatchesView(v.URL(), target) {
			if err := v.Focus(ctx); err != nil {
				return fmt.Errorf("focus %s: %w", v.URL(), err)
			}
			return nil
		}
	}

	if err := r.clients.OpenWindow(ctx, target); err != nil {
		return fmt.Errorf("open window %s: %w", target, err)
	}
	return nil
}
