package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the literal HTTP contract spec.md §6 names: the agent
// push endpoint, the SSE stream, and a health check. It mirrors
// cmd/server/main.go's router construction (RealIP, Recoverer,
// RequestID) but carries none of the teacher's site/auth/proxy routes,
// which have no analog in this spec.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", h.Healthz)
	r.Post("/events/push", h.PushEvent)
	r.Get("/events/stream", h.StreamEvents)

	return r
}
