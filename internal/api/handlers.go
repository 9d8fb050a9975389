// Package api implements the HTTP surface spec.md §6 places inside the
// core's contract: the agent push endpoint and the SSE stream, plus a
// health check. General routing/CORS/multipart handling otherwise stays
// external per spec.md §1's Non-goals — this package wires only the two
// literal endpoints the spec names.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/veil-scan/warden/internal/eventbus"
	"github.com/veil-scan/warden/internal/fastevent"
	"github.com/veil-scan/warden/internal/model"
)

// Handler bundles the fast-event ingestor and event bus behind the HTTP
// surface spec.md §6 describes.
type Handler struct {
	ingestor *fastevent.Ingestor
	bus      *eventbus.Bus
	recent   RecentEventsReader
	logger   *slog.Logger
}

// RecentEventsReader optionally hydrates a new SSE subscriber with
// recently persisted events before switching to live fan-out.
type RecentEventsReader interface {
	RecentEvents(ctx context.Context, limit int) ([]model.Event, error)
}

const sseHydrationCount = 20

// New builds a Handler. recent may be nil, in which case a new SSE
// subscriber receives no hydration backlog.
func New(ingestor *fastevent.Ingestor, bus *eventbus.Bus, recent RecentEventsReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ingestor: ingestor, bus: bus, recent: recent, logger: logger}
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PushEvent handles POST /events/push: agent token auth, then delegates
// to the fast-event ingestor (spec.md §6, §4.12).
func (h *Handler) PushEvent(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Agent-Token")
	if !h.ingestor.Authenticate(token) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid agent token"})
		return
	}

	var req fastevent.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := h.ingestor.Ingest(r.Context(), req)
	if err != nil {
		h.logger.Error("api: fast event ingest failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"published":          result.Published,
		"enqueued_deep_scan": result.EnqueuedDeepScan,
	})
}

// StreamEvents handles GET /events/stream: an SSE feed of every event
// published to the bus, plus a recent-event hydration backlog and a
// ~20s heartbeat ping (spec.md §6, §4.11).
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if h.recent != nil {
		if backlog, err := h.recent.RecentEvents(r.Context(), sseHydrationCount); err == nil {
			for _, ev := range backlog {
				writeSSE(w, ev)
			}
			flusher.Flush()
		}
	}

	sub, cancel := h.bus.Subscribe()
	defer cancel()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
