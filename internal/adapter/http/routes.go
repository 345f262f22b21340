package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all admin API routes on the given chi router.
// wsHandler, when non-nil, is mounted at /ws for real-time event streaming.
func MountRoutes(r chi.Router, h *Handlers, wsHandler http.HandlerFunc) {
	r.Get("/healthz", h.Health)

	if wsHandler != nil {
		r.Get("/ws", wsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Adapters
		r.Get("/adapters", h.ListAdapters)
		r.Get("/adapters/health", h.AdapterHealth)
		r.Get("/adapters/{tool}/history", h.AdapterHistory)

		// Stage progress
		r.Get("/progress", h.GetProgress)
		r.Delete("/progress", h.ClearProgress)

		// Runs
		r.Post("/runs", h.StartRun)
		r.Post("/runs/cancel", h.CancelRun)
	})
}
