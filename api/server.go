/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the calendar UI

ROUTE GROUPS:
  /cron/*               External scheduler trigger
  /calendar/events      Alias of /api/calendar/events for the UI
  /api/plans/*          Plan management
  /api/assets           Asset registry
  /api/holidays/*       Working-calendar holidays (when a store is wired)
  /api/scenarios/*      Demo data
  /api/admin/*          Operator operations, bearer token required
  /metrics, /healthz    Operations

SECURITY NOTE:
  Only /api/admin is authenticated. With no operator token configured the
  admin group answers 403 to everyone.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter. Zero values are usable.
type RouterOptions struct {
	AllowedOrigins []string
	OperatorToken  string

	// Metrics is mounted on /metrics when set (promhttp.Handler()).
	Metrics http.Handler

	// Health is called by /healthz when set.
	Health func(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Triggered-By"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(req.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "unhealthy", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// Cron trigger. POST is accepted for schedulers that cannot send GET.
	r.Get("/cron/generate-preventive-orders", h.GeneratePreventiveOrders)
	r.Post("/cron/generate-preventive-orders", h.GeneratePreventiveOrders)

	r.Get("/calendar/events", h.CalendarEvents)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/calendar/events", h.CalendarEvents)

		// Plan routes
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.CreatePlan)
			r.Get("/{code}", h.GetPlan)
			r.Post("/{code}/auto-generation", h.SetAutoGeneration)
			r.Post("/{code}/status", h.SetPlanStatus)
			r.Get("/{code}/preview", h.PreviewPlan)
		})

		// Asset routes
		r.Route("/assets", func(r chi.Router) {
			r.Get("/", h.ListAssets)
			r.Post("/", h.CreateAsset)
		})

		// Holiday routes
		if h.Holidays != nil {
			r.Route("/holidays", func(r chi.Router) {
				r.Get("/", h.ListHolidays)
				r.Post("/", h.CreateHoliday)
				r.Delete("/{date}", h.DeleteHoliday)
			})
		}

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireBearerToken(opts.OperatorToken))
			r.Post("/plans/{code}/generate", h.GeneratePlanNow)
			r.Get("/generation-runs", h.ListGenerationRuns)
		})
	})

	return r
}

// RequireBearerToken rejects requests whose Authorization header does not
// carry token. An empty token rejects everything.
func RequireBearerToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeError(w, http.StatusForbidden, "Operator access is not configured", nil)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "Invalid operator token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
