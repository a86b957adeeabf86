package worker

import (
	"context"
	"log/slog"

	"github.com/dukerupert/fichador/internal/notify"
	"github.com/dukerupert/fichador/internal/websocket"
)

// hubRenderer shows notifications by broadcasting them to every open view.
type hubRenderer struct {
	hub    Hub
	logger *slog.Logger
}

func (r *hubRenderer) Show(ctx context.Context, d notify.Descriptor) error {
	r.logger.Info("notification", "title", d.Title, "body", d.Body, "tag", d.Tag, "url", d.URL())
	r.hub.Broadcast(websocket.NotificationMessage(websocket.TypeNotification, d))
	return nil
}

func (r *hubRenderer) Close(ctx context.Context, tag string) error {
	r.logger.Debug("notification closed", "tag", tag)
	return nil
}
