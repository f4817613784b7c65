package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"chatrelay-backend/internal/handlers"
	"chatrelay-backend/internal/middleware"
)

func New(
	chatHandler *handlers.ChatHandler,
	corsOrigin string,
	metricsEnabled bool,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)
	if metricsEnabled {
		middleware.RegisterMetrics()
		r.Use(middleware.Metrics)
	}
	// Answers every OPTIONS request, so it must stay last.
	r.Use(middleware.CORS(corsOrigin))

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("OK"))
	})

	if metricsEnabled {
		r.Method(http.MethodGet, "/metrics", middleware.MetricsHandler())
	}

	// Relay routes
	r.Post("/api/chat", chatHandler.Chat)
	r.HandleFunc("/api/completions", chatHandler.Complete)

	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("Not Found"))
}
