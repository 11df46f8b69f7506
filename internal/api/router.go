package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/starport-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/server", func(r chi.Router) {
				r.With(s.require(auth.PermStatusRead)).Get("/", s.handleGetServer)

				r.Group(func(r chi.Router) {
					r.Use(s.require(auth.PermServerControl))
					r.Post("/start", s.handleStartServer)
					r.Post("/stop", s.handleStopServer)
					r.Post("/restart", s.handleRestartServer)
				})
			})

			r.Route("/drivers", func(r chi.Router) {
				r.With(s.require(auth.PermStatusRead)).Get("/", s.handleListDrivers)

				r.Group(func(r chi.Router) {
					r.Use(s.require(auth.PermDriverControl))
					r.Post("/", s.handleStartDriver)
					r.Delete("/{label}", s.handleStopDriver)
					r.Post("/{label}/restart", s.handleRestartDriver)
				})
			})

			r.With(s.require(auth.PermCommandSend)).Post("/commands", s.handleSendCommand)
			r.With(s.require(auth.PermStatusRead)).Get("/fifo/stats", s.handleFifoStats)

			r.Route("/devices", func(r chi.Router) {
				r.With(s.require(auth.PermStatusRead)).Get("/", s.handleListDevices)
				r.With(s.require(auth.PermStatusRead)).Get("/{device}/props/{prop}", s.handleGetProp)
				r.With(s.require(auth.PermDriverControl)).Put("/{device}/props/{prop}", s.handleSetProp)
			})

			r.Route("/history", func(r chi.Router) {
				r.Use(s.require(auth.PermHistoryRead))
				r.Get("/server", s.handleServerHistory)
				r.Get("/drivers", s.handleDriverHistory)
				r.Get("/audit", s.handleAuditLog)
			})

			r.With(s.require(auth.PermEventsStream)).Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"indiserver": s.ctl.IsRunning(),
	})
}
