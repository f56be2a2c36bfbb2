/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/sync/*        Batch runs and scheduler status
  /api/accounts/*    Single-account balances
  /api/balances/*    Aggregates
  /api/recurring/*   Recurring-transaction recipes
  /api/loans/*       Loan contracts, schedules, payment lifecycle

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/sync", func(r chi.Router) {
			r.Post("/recurring", h.SyncRecurring)
			r.Post("/loans", h.SyncLoans)
			r.Get("/status", h.SyncStatus)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{id}/balance", h.GetBalance)
		})

		r.Route("/balances", func(r chi.Router) {
			r.Post("/total", h.TotalBalance)
		})

		r.Route("/recurring", func(r chi.Router) {
			r.Post("/", h.CreateRecurring)
			r.Get("/{id}", h.GetRecurring)
		})

		r.Route("/loans", func(r chi.Router) {
			r.Post("/", h.CreateLoan)
			r.Get("/{id}/payments", h.GetLoanPayments)
			r.Post("/{id}/regenerate", h.RegenerateLoan)
			r.Post("/payments/{id}/reset", h.ResetPayment)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
