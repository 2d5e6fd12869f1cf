/*
server.go - HTTP router and middleware configuration

PURPOSE:

	Configures the HTTP router (chi), middleware stack, and route definitions.
	This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
 1. RequestID:  Unique ID per request for tracing
 2. Logger:     Request logging
 3. Recoverer:  Panic recovery (500 instead of crash)
 4. CORS:       Cross-origin requests for the association portal

ROUTE GROUPS:

	/api/units/{unitID}/*   Bills, payments, credit for one unit
	/api/config/*           Billing config per client/module
	/api/admin/*            Batch operations
	/metrics                Prometheus scrape endpoint
	/healthz                Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions tunes NewRouter. The zero value is usable.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/units/{unitID}", func(r chi.Router) {
			r.Get("/bills", h.GetBills)
			r.Post("/bills", h.CreateBills)
			r.Get("/credit", h.GetCredit)
			r.Get("/payments", h.ListPayments)
			r.Post("/payments", h.RecordPayment)
			r.Post("/payments/preview", h.PreviewPayment)
		})

		r.Put("/config/{clientID}/{module}", h.PutConfig)

		if h.Demo != nil {
			r.Get("/scenarios", h.ListScenarios)
			r.Post("/scenarios/load", h.LoadScenario)
		}

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/penalties/recalculate", h.RecalculatePenalties)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.Health)

	return r
}
