package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-platform/capsync/internal/assignment"
	"github.com/meridian-platform/capsync/internal/catalog"
	"github.com/meridian-platform/capsync/internal/merge"
	"github.com/meridian-platform/capsync/internal/observability"
	"github.com/meridian-platform/capsync/internal/platform/httpx"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	CatalogHandler    *catalog.Handler
	AssignmentHandler *assignment.Handler
	MergeHandler      *merge.Handler
	Metrics           *observability.Metrics

	// HealthCheck pings the backing stores; nil means liveness-only.
	HealthCheck func(ctx context.Context) error
}

// NewRouter constructs the chi.Router with capsync defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.HealthCheck != nil {
			if err := params.HealthCheck(r.Context()); err != nil {
				params.Logger.Warn("health check failed", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Unhealthy", err.Error())
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TenantMiddleware)
		if params.CatalogHandler != nil {
			r.Route("/catalog", params.CatalogHandler.MountRoutes)
		}
		if params.AssignmentHandler != nil {
			params.AssignmentHandler.MountRoutes(r)
		}
	})

	if params.MergeHandler != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(TenantMiddleware)
			params.MergeHandler.MountRoutes(r)
		})
	}

	return r
}
