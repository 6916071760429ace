/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/orgs/{orgID}/attendance/*      Punches, summaries, range report, fence lookup
  /api/orgs/{orgID}/punch-requests/*  Punch request workflow
  /api/scheduler/run                  Manual scheduler trigger
  /api/health                         Dependency health
  /metrics                            Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. Deploy behind the platform gateway.

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

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        http.Handler // nil omits /metrics
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/scheduler/run", h.RunScheduler)

		r.Route("/orgs/{orgID}", func(r chi.Router) {
			r.Route("/attendance", func(r chi.Router) {
				r.Post("/punch", h.Punch)
				r.Post("/punched", h.PunchSupervised)
				r.Get("/today", h.Today)
				r.Get("/range", h.AttendanceRange)
				r.Get("/fence", h.EffectiveFence)
				r.Post("/complete", h.CompleteDay)
			})

			r.Route("/punch-requests", func(r chi.Router) {
				r.Post("/", h.CreatePunchRequest)
				r.Get("/pending", h.PendingPunchRequests)
				r.Get("/history", h.PunchRequestHistory)
				r.Get("/{id}", h.GetPunchRequest)
				r.Post("/{id}/cancel", h.CancelPunchRequest)
			})
		})
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	return r
}
