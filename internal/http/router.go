package http

import (
	"net/http"

	"voice-screening-service/internal/api/ws"
	"voice-screening-service/internal/app"
	"voice-screening-service/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Get("/v1/health", application.Health.Handler())

	// Streaming endpoint
	r.Handle("/ws", ws.NewHandler(application.NewSession, application.Logger))

	return r
}
