// Package server is a development backend speaking the chat client's API:
// JWT access/refresh pairs, chat and user endpoints, and a websocket hub.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter wires the public and protected routes. gatherer may be nil,
// which leaves /metrics out.
func NewRouter(h *Handler, auth *AuthMiddleware, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/login", h.Login)
	r.Post("/users", h.Register)
	r.Post("/refresh-token", h.Refresh)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(auth.Handle)

		r.Get("/ws", h.ServeWs)

		r.Get("/users", h.SearchUsers)
		r.Post("/users/batch-query", h.BatchQueryUsers)

		r.Get("/chats", h.ListChats)
		r.Post("/chats", h.CreateChat)
		r.Get("/chats/{id}", h.GetChat)
		r.Post("/chats/{id}/read", h.MarkRead)
	})

	return r
}
