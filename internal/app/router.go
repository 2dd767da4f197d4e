package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/accesshub/accesshub/internal/audit"
	"github.com/accesshub/accesshub/internal/auth"
	"github.com/accesshub/accesshub/internal/authz"
	"github.com/accesshub/accesshub/internal/grants"
	"github.com/accesshub/accesshub/internal/notify"
	"github.com/accesshub/accesshub/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	Authz         authz.Middleware
	AuthHandler   *auth.Handler
	GrantsHandler *grants.Handler
	AuthzHandler  *authz.Handler
	AuditHandler  *audit.Handler
	NotifyHandler *notify.Handler
	JobHandler    *jobs.Handler
}

// NewRouter constructs the chi.Router with AccessHub defaults.
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

	r.Route("/auth", params.AuthHandler.MountRoutes)

	// Everything below requires a resolved actor; the handlers and service
	// guards reject anonymous or under-privileged callers.
	r.Group(func(r chi.Router) {
		r.Use(params.AuthHandler.Middleware)

		r.Route("/access", params.GrantsHandler.MountRoutes)
		r.Route("/authz", params.AuthzHandler.MountRoutes)
		if params.AuditHandler != nil {
			r.With(params.Authz.Require(authz.PermAuditView)).
				Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.NotifyHandler != nil {
			r.With(params.Authz.Require(authz.PermDeadLetterView)).
				Route("/notifications", params.NotifyHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.With(params.Authz.Require(authz.PermDeadLetterView)).
				Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
