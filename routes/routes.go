package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/authcore/app"
	"github.com/upb/authcore/auth"
	"github.com/upb/authcore/utils"
)

// SetupRoutes configures all application routes and middleware. The
// authentication interceptor runs for every request ahead of any handler;
// it never rejects, so public routes stay reachable.
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	metricsEnabled := deps.Metrics != nil && deps.Config.Observability.MetricsEnabled
	if metricsEnabled {
		r.Use(deps.Metrics.Middleware)
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(deps),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", deps.Config.Auth.HeaderString},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(deps.AuthMiddleware.Authenticate)

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	if metricsEnabled {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// External login
	if deps.OAuth2Handler != nil {
		r.Get("/oauth2/authorization/{"+auth.ProviderURLParam+"}", deps.OAuth2Handler.HandleAuthorize)
		r.Get("/login/oauth2/code/{"+auth.ProviderURLParam+"}", deps.OAuth2Handler.HandleCallback)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuthenticated)
		r.Get("/me", deps.CurrentIdentityHandler.HandleGetCurrentIdentity)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

func allowedOrigins(deps *app.Dependencies) []string {
	if origins := deps.Config.Server.AllowedOrigins; len(origins) > 0 {
		return origins
	}
	return []string{"http://localhost:*"}
}
