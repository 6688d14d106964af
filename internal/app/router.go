package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cimcon/p2p/internal/codes"
	"github.com/cimcon/p2p/internal/inventory"
	"github.com/cimcon/p2p/internal/master"
	"github.com/cimcon/p2p/internal/masterdata"
	"github.com/cimcon/p2p/internal/observability"
	"github.com/cimcon/p2p/internal/platform/httpx"
	"github.com/cimcon/p2p/internal/procurement"
	"github.com/cimcon/p2p/internal/requisition"
	"github.com/cimcon/p2p/jobs"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Callers CallerResolver
	Metrics *observability.Metrics

	RequisitionHandler *requisition.Handler
	MasterHandler      *master.Handler
	MasterDataHandler  *masterdata.Handler
	ProcurementHandler *procurement.Handler
	InventoryHandler   *inventory.Handler
	CodesHandler       *codes.Handler
	JobHandler         *jobs.Handler

	// Checks are probed by /readyz; a failing check marks the service unready.
	Checks map[string]Pinger
}

// NewRouter constructs the chi.Router with P2P defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Callers: params.Callers,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", readiness(params.Checks, params.Logger))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireCaller(params.Callers, params.Logger))

		if params.RequisitionHandler != nil {
			r.Route("/requisitions", params.RequisitionHandler.MountRoutes)
		}
		if params.MasterHandler != nil {
			r.Route("/masters", params.MasterHandler.MountRoutes)
		}
		if params.ProcurementHandler != nil {
			r.Route("/purchase-orders", params.ProcurementHandler.MountRoutes)
		}
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.MasterDataHandler != nil {
			r.Route("/masterdata", params.MasterDataHandler.MountRoutes)
		}
		if params.CodesHandler != nil {
			r.Route("/codes", params.CodesHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}

func readiness(checks map[string]Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Ping(ctx); err != nil {
				logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
				result[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "up"
		}
		httpx.JSON(w, status, result)
	}
}
