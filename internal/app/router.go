package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-inventory/internal/inventory"
	"github.com/meridian-erp/meridian-inventory/internal/observability"
	"github.com/meridian-erp/meridian-inventory/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Pool             *pgxpool.Pool
	Metrics          *observability.Metrics
	InventoryHandler *inventory.Handler
	JobsHandler      *jobs.Handler
}

// NewRouter assembles the chi router with middleware and module routes.
func NewRouter(params RouterParams) *chi.Mux {
	router := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		router.Use(mw)
	}

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	router.Route("/inventory", func(r chi.Router) {
		params.InventoryHandler.MountRoutes(r)
	})
	if params.JobsHandler != nil {
		router.Route("/jobs", func(r chi.Router) {
			params.JobsHandler.MountRoutes(r)
		})
	}

	return router
}
