package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pressroom-erp/pressroom-erp/internal/approvals"
	"github.com/pressroom-erp/pressroom-erp/internal/invoices"
	"github.com/pressroom-erp/pressroom-erp/internal/notify"
	"github.com/pressroom-erp/pressroom-erp/internal/orders"
	"github.com/pressroom-erp/pressroom-erp/internal/quotations"
	"github.com/pressroom-erp/pressroom-erp/internal/servicejobs"
	"github.com/pressroom-erp/pressroom-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger               *slog.Logger
	Config               *Config
	OrdersHandler        *orders.Handler
	InvoicesHandler      *invoices.Handler
	QuotationsHandler    *quotations.Handler
	ServiceJobsHandler   *servicejobs.Handler
	ApprovalsHandler     *approvals.Handler
	NotificationsHandler *notify.Handler
	JobHandler           *jobs.Handler
}

// NewRouter constructs the chi.Router with Pressroom defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", params.OrdersHandler.MountRoutes)
		r.Route("/invoices", params.InvoicesHandler.MountRoutes)
		r.Route("/quotations", params.QuotationsHandler.MountRoutes)
		r.Route("/service-jobs", params.ServiceJobsHandler.MountRoutes)
		r.Route("/approvals", params.ApprovalsHandler.MountRoutes)
		r.Route("/notifications", params.NotificationsHandler.MountRoutes)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
