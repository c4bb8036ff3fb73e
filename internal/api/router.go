package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/devicesync/internal/panel"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	// Operator console (static assets, auth happens in the page)
	r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler(s.cfg.PanelDir)))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/panel/", http.StatusFound)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// Prometheus metrics (no auth required for basic monitoring)
		r.Handle("/metrics", promhttp.Handler())

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)
				r.Get("/{id}", s.handleGetDevice)
			})
			r.Post("/components", s.handleAddComponent)
			r.Post("/sensors", s.handleAddSensor)

			r.Route("/sync", func(r chi.Router) {
				r.Post("/pause", s.handlePauseSync)
				r.Post("/resume", s.handleResumeSync)
				r.Get("/status", s.handleSyncStatus)
			})
			r.Get("/subscriptions", s.handleListSubscriptions)

			r.Post("/listeners/device", s.handleAddDeviceListener)
			r.Delete("/listeners/device", s.handleRemoveDeviceListener)

			r.Post("/cleanup", s.handleCleanup)

			r.Get("/audit", s.handleListAudit)
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state, err := s.session.SyncState()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "unavailable",
			"version": s.version,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"sync":           state,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
