package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler builds the HTTP router with all routes and middleware.
//
// Middleware runs in order: request ID, logging, panic recovery, CORS and
// body size limit. All routes live under /api/v1.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Controller link
		r.Route("/link", func(r chi.Router) {
			r.Get("/", s.handleGetLink)
			r.Post("/start", s.handleStartLink)
			r.Post("/stop", s.handleStopLink)
		})

		// Variables
		r.Get("/variables", s.handleListVariables)
		r.Get("/variables/{key}", s.handleGetVariable)
		r.Post("/variables/{ns}/{name}/write", s.handleWriteVariable)
		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Post("/subscriptions", s.handleSubscribe)

		r.Post("/detections", s.handleDetection)

		// Profiles
		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", s.handleListProfiles)
			r.Post("/", s.handleCreateProfile)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetProfile)
				r.Put("/", s.handleUpdateProfile)
				r.Delete("/", s.handleDeleteProfile)
				r.Post("/activate", s.handleActivateProfile)
			})
		})

		// WebSocket status feed
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports liveness plus the link state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := map[string]string{"link": s.link.State().String()}
	if !s.link.IsConnected() {
		status = "degraded"
	}
	if s.mqtt != nil {
		if s.mqtt.IsConnected() {
			checks["mqtt"] = "connected"
		} else {
			checks["mqtt"] = "disconnected"
			status = "degraded"
		}
	}
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = err.Error()
			status = "degraded"
		} else {
			checks["database"] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}
