/**
 * @description
 * HTTP router setup for the payments-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the service routes. The
// request timeout bounds how long a single callback can hold a handler, so
// one slow delivery cannot starve the pool; slow side effects belong to the
// retry scheduler's async path instead.
func NewRouter(h *Handler, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Payments service is healthy"))
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/callback/{gateway}", h.handleGatewayCallback)

		r.Group(func(r chi.Router) {
			r.Use(InternalAuthMiddleware(internalKey))
			r.Get("/{paymentID}", h.handleGetPaymentStatus)
		})
	})

	return r
}
