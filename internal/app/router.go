package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-procurement/internal/delivery"
	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/suppliers"
	"github.com/odyssey-erp/odyssey-procurement/internal/observability"
	"github.com/odyssey-erp/odyssey-procurement/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-procurement/internal/procurement"
	"github.com/odyssey-erp/odyssey-procurement/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	ProcurementHandler *procurement.Handler
	DeliveryHandler    *delivery.Handler
	SupplierHandler    *suppliers.Handler
	JobHandler         *jobs.Handler
	Idempotency        httpx.KeyStore
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" not allowed on "+r.URL.Path)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		if params.ProcurementHandler != nil {
			r.Route("/procurement", func(r chi.Router) {
				r.Use(httpx.Idempotent(params.Idempotency, "procurement", params.Logger))
				params.ProcurementHandler.MountRoutes(r)
			})
		}
		if params.DeliveryHandler != nil {
			r.Route("/deliveries", func(r chi.Router) {
				r.Use(httpx.Idempotent(params.Idempotency, "delivery", params.Logger))
				params.DeliveryHandler.MountRoutes(r)
			})
		}
		if params.SupplierHandler != nil {
			r.Route("/suppliers", params.SupplierHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
