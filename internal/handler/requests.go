package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"mutation-queue/internal/model"
)

// OfflineQueue is the part of the offline queue exposed over HTTP
type OfflineQueue interface {
	Enqueue(ctx context.Context, d model.Descriptor) (string, error)
	Remove(ctx context.Context, id string) bool
	Clear(ctx context.Context)
	Snapshot() []model.QueuedRequest
	Flush(ctx context.Context) bool
}

// RequestsHandler lets the surrounding application queue and inspect mutations
type RequestsHandler struct {
	queue  OfflineQueue
	logger arbor.ILogger
}

func NewRequestsHandler(q OfflineQueue, logger arbor.ILogger) *RequestsHandler {
	return &RequestsHandler{
		queue:  q,
		logger: logger,
	}
}

// Register mounts the routes on mux
func (h *RequestsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /requests", h.enqueue)
	mux.HandleFunc("GET /requests", h.list)
	mux.HandleFunc("DELETE /requests", h.clear)
	mux.HandleFunc("DELETE /requests/{id}", h.remove)
	mux.HandleFunc("POST /requests/flush", h.flush)
}

func (h *RequestsHandler) enqueue(w http.ResponseWriter, r *http.Request) {
	var d model.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	id, err := h.queue.Enqueue(r.Context(), d)
	if errors.Is(err, model.ErrInvalidDescriptor) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to enqueue request")
		http.Error(w, "Failed to enqueue request", http.StatusInternalServerError)
		return
	}

	// 202: replay happens later, if at all
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "id": id})
}

func (h *RequestsHandler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.Snapshot())
}

func (h *RequestsHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.queue.Remove(r.Context(), id) {
		http.Error(w, "Request not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RequestsHandler) clear(w http.ResponseWriter, r *http.Request) {
	h.queue.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *RequestsHandler) flush(w http.ResponseWriter, r *http.Request) {
	// detached: a client disconnect must not cancel replays mid-pass
	ran := h.queue.Flush(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"ran":     ran,
		"pending": len(h.queue.Snapshot()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
