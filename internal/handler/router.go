package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/eventjoin/internal/logging"
)

// NewRouter mounts every route of the API.
func NewRouter(authH *AuthHandler, eventH *EventHandler, tokens Tokens, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer)       // recover from panics, return 500
	r.Use(chimiddleware.RequestID)       // attach request IDs
	r.Use(chimiddleware.RealIP)          // trust X-Forwarded-For
	r.Use(Logger(logging.OrNop(logger))) // structured access log
	r.Use(CORS)

	r.Get("/health", HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authH.Register)
			r.Post("/login", authH.Login)
			r.Post("/token", authH.Login)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", eventH.ListEvents)

			r.Group(func(r chi.Router) {
				r.Use(RequireAuth(tokens))
				r.Post("/", eventH.CreateEvent)
				r.Get("/{eventId}", eventH.GetEvent)
				r.Post("/{eventId}/join", eventH.Join)
				r.Get("/{eventId}/requests", eventH.ListRequests)
				r.Post("/{eventId}/requests/{requestId}/approve", eventH.Approve)
				r.Post("/{eventId}/requests/{requestId}/reject", eventH.Reject)
			})
		})
	})

	return r
}
