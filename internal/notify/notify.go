// Package notify turns push payloads of any shape into one canonical
// notification descriptor and routes clicks on rendered notifications.
package notify

import "context"

// Field defaults applied when a payload leaves them out.
const (
	DefaultTitle = "Notificación"
	DefaultIcon  = "/static/icon-192x192.png"
	DefaultBadge = "/static/icon-128x128.png"
	DashboardURL = "/dashboard"
)

// Action is a button offered on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Descriptor is the canonical, ephemeral notification handed to a Renderer.
type Descriptor struct {
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Icon      string         `json:"icon"`
	Badge     string         `json:"badge"`
	Data      map[string]any `json:"data"`
	Actions   []Action       `json:"actions"`
	Tag       string         `json:"tag"`
	Timestamp int64          `json:"timestamp"`
}

// URL returns data.url, or the dashboard when it is missing.
func (d Descriptor) URL() string {
	if u, ok := d.Data["url"].(string); ok && u != "" {
		return u
	}
	return DashboardURL
}

// Renderer surfaces notifications to the user.
type Renderer interface {
	Show(ctx context.Context, d Descriptor) error
	Close(ctx context.Context, tag string) error
}

// Local builds the descriptor for a locally scheduled reminder.
func Local(title, body, tag string, timestamp int64) Descriptor {
	return Descriptor{
		Title:     title,
		Body:      body,
		Icon:      DefaultIcon,
		Badge:     DefaultBadge,
		Data:      map[string]any{"url": DashboardURL},
		Actions:   []Action{},
		Tag:       tag,
		Timestamp: timestamp,
	}
}
