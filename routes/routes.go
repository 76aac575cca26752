package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/syspro/erp-automation/app"
	"github.com/syspro/erp-automation/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-Slug", "X-Actor"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler(deps.DB.DB, deps.Logger)
	policyHandler := handlers.NewPolicyHandler(deps.Policies, deps.TxManager, deps.Decisions, deps.Logger)
	automationHandler := handlers.NewAutomationHandler(
		deps.Rules, deps.RuleAudits, deps.Engine, deps.Dispatcher, deps.Processor, deps.Bus, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// Prometheus metrics
	if deps.Config.Observability.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// API v1 routes, all tenant-scoped
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.TenantMiddleware.RequireTenant)

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", policyHandler.HandleListPolicies)
			r.Post("/", policyHandler.HandleCreatePolicy)
			r.Post("/decide", policyHandler.HandleDecide)
			r.Get("/{id}", policyHandler.HandleGetPolicy)
			r.Post("/{id}/versions", policyHandler.HandleAddVersion)
			r.Patch("/{id}/status", policyHandler.HandleUpdateStatus)
			r.Get("/{id}/overrides", policyHandler.HandleListOverrides)
			r.Post("/{id}/overrides", policyHandler.HandleAddOverride)
		})

		r.Route("/automation", func(r chi.Router) {
			r.Route("/rules", func(r chi.Router) {
				r.Get("/", automationHandler.HandleListRules)
				r.Post("/", automationHandler.HandleCreateRule)
				r.Get("/{id}", automationHandler.HandleGetRule)
				r.Patch("/{id}", automationHandler.HandleUpdateRule)
				r.Delete("/{id}", automationHandler.HandleDeleteRule)
				r.Post("/{id}/simulate", automationHandler.HandleSimulateRule)
			})
			r.Post("/events", automationHandler.HandlePublishEvent)
			r.Post("/queue/process", automationHandler.HandleProcessQueue)
			r.Post("/dispatch", automationHandler.HandleDispatch)
			r.Get("/triggers", automationHandler.HandleListTriggers)
			r.Get("/audits", automationHandler.HandleListAudits)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
