package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/fichador/internal/notify"
	"github.com/dukerupert/fichador/internal/websocket"
	"github.com/dukerupert/fichador/internal/worker"
)

type WorkerHandler struct {
	worker *worker.Worker
	logger *slog.Logger
}

func NewWorkerHandler(w *worker.Worker, logger *slog.Logger) *WorkerHandler {
	return &WorkerHandler{worker: w, logger: logger}
}

// NotificationClick handles POST /_sw/notificationclick. It answers only
// after the focus-or-open handoff finished.
func (h *WorkerHandler) NotificationClick(w http.ResponseWriter, r *http.Request) {
	var d notify.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := h.worker.NotificationClick(r.Context(), d).Wait(); err != nil {
		h.logger.Error("notification click", "tag", d.Tag, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to open view"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Message handles POST /_sw/message.
func (h *WorkerHandler) Message(w http.ResponseWriter, r *http.Request) {
	var msg websocket.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if msg.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type is required"})
		return
	}

	if err := h.worker.Message(r.Context(), msg); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, worker.ErrInvalidState) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
