package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/riskforge/riskforge/internal/api/middleware"
	"github.com/riskforge/riskforge/internal/api/response"
	"github.com/riskforge/riskforge/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	SubmitHandler  http.HandlerFunc
	StatusHandler  http.HandlerFunc
	HistoryHandler http.HandlerFunc

	RegisterModelHandler http.HandlerFunc
	ActivateModelHandler http.HandlerFunc
	ListModelsHandler    http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public endpoints
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.With(deps.Auth.RequireScope(models.ScopePredictionsWrite)).
			Post("/api/v1/predictions", orNotImplemented(deps.SubmitHandler))
		r.With(deps.Auth.RequireScope(models.ScopePredictionsRead)).
			Get("/api/v1/predictions/{taskID}", orNotImplemented(deps.StatusHandler))
		r.With(deps.Auth.RequireScope(models.ScopePredictionsRead)).
			Get("/api/v1/history/{userRef}", orNotImplemented(deps.HistoryHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/admin/models", orNotImplemented(deps.RegisterModelHandler))
			r.Get("/api/v1/admin/models/{name}", orNotImplemented(deps.ListModelsHandler))
			r.Post("/api/v1/admin/models/{name}/versions/{version}/activate", orNotImplemented(deps.ActivateModelHandler))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
