/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP from proxy headers
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for admin frontends

ROUTE GROUPS:
  /api/events/*    Order pipeline events (fire-and-forget semantics)
  /api/agents/*    Agent-facing ledger and payout endpoints
  /api/payouts/*   Payout listing, stats, and admin transitions
  /api/orders      Order directory fixtures
  /api/settings/*  Policy administration

SECURITY NOTE:
  No authentication middleware currently. The service is expected to run
  behind the platform gateway, which authenticates and attaches actor
  identity.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Order pipeline events
		r.Route("/events", func(r chi.Router) {
			r.Post("/order-delivered", h.OrderDelivered)
			r.Post("/order-created", h.OrderCreated)
			r.Post("/order-cancelled", h.OrderCancelled)
		})

		// Agent-facing endpoints
		r.Route("/agents", func(r chi.Router) {
			r.Post("/", h.CreateAgent)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/commissions", h.GetCommissions)
			r.Post("/{id}/payouts", h.CreatePayout)
		})

		// Payout listing and admin transitions
		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", h.ListPayouts)
			r.Get("/stats", h.GetPayoutStats)
			r.Get("/window", h.GetWindow)
			r.Get("/{id}", h.GetPayout)
			r.Post("/{id}/approve", h.ApprovePayout)
			r.Post("/{id}/pay", h.PayPayout)
			r.Post("/{id}/reject", h.RejectPayout)
			r.Post("/{id}/hold", h.HoldPayout)
			r.Post("/{id}/release", h.ReleasePayout)
		})

		// Directory fixtures
		r.Post("/orders", h.CreateOrder)

		// Policy administration
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.GetSettings)
			r.Put("/", h.UpdateSettings)
			r.Get("/history", h.GetSettingsHistory)
		})
	})

	return r
}
