package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/fichador/internal/push"
	"github.com/dukerupert/fichador/internal/subscription"
	"github.com/dukerupert/fichador/internal/worker"
)

const maxPushBody = 64 << 10

// ReceiverLookup resolves a platform endpoint id to its decryption keys.
type ReceiverLookup interface {
	Lookup(id string) (*subscription.Receiver, error)
}

type PushHandler struct {
	worker    *worker.Worker
	receivers ReceiverLookup
	logger    *slog.Logger
}

func NewPushHandler(w *worker.Worker, receivers ReceiverLookup, logger *slog.Logger) *PushHandler {
	return &PushHandler{worker: w, receivers: receivers, logger: logger}
}

// Deliver handles POST /_sw/push/{id}, the platform's push delivery.
func (h *PushHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	receiver, err := h.receivers.Lookup(id)
	if err != nil {
		h.logger.Error("lookup push receiver", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load subscription"})
		return
	}
	if receiver == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown subscription"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	present := len(body) > 0
	if strings.EqualFold(r.Header.Get("Content-Encoding"), push.ContentEncoding) {
		body, err = push.Decrypt(body, receiver.PrivateKey, receiver.Auth)
		if err != nil {
			h.logger.Warn("reject push", "id", id, "error", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
			return
		}
		present = true
	}

	if err := h.worker.Push(r.Context(), body, present).Wait(); err != nil {
		h.logger.Error("render push", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to show notification"})
		return
	}

	w.WriteHeader(http.StatusCreated)
}
