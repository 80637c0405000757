/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions for
  the session-control surface. This layer only translates HTTP to domain
  calls; every rule lives in the pos package.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Back-office frontend access

ROUTE GROUPS:
  /api/sessions/*              Session lifecycle + reports
  /api/charges/*               Charge facts from the payment collaborator
  /api/receipts/*              POS-side receipt actions (copy, training)
  /api/stores/{storeID}/*      Store-scoped reads and operational events

SECURITY NOTE:
  No authentication middleware: this service sits behind the back-office
  gateway, which owns authn/authz and tenant resolution.

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
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Session lifecycle
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.OpenSession)
			r.Get("/{id}", h.GetSession)
			r.Post("/{id}/close", h.CloseSession)
			r.Post("/{id}/reports/x", h.XReport)
			r.Post("/{id}/reports/z", h.ZReport)
		})

		// Charge facts (webhook-shaped: idempotent, replay-safe)
		r.Route("/charges", func(r chi.Router) {
			r.Post("/succeeded", h.ChargeSucceeded)
			r.Post("/refunded", h.ChargeRefunded)
			r.Post("/voided", h.ChargeVoided)
			r.Post("/corrected", h.ChargeCorrected)
		})

		// POS-side receipt actions
		r.Route("/receipts", func(r chi.Router) {
			r.Post("/copy", h.ReceiptCopy)
			r.Post("/training", h.TrainingReceipt)
		})

		// Store-scoped reads and operational events
		r.Route("/stores/{storeID}", func(r chi.Router) {
			r.Get("/sessions", h.ListSessions)
			r.Get("/events", h.ListEvents)
			r.Post("/events", h.RecordOperationalEvent)
		})
	})

	return r
}
