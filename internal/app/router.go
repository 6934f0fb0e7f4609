package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/tallyard/tallyard/internal/audit"
	"github.com/tallyard/tallyard/internal/observability"
	"github.com/tallyard/tallyard/internal/platform/httpx"
	"github.com/tallyard/tallyard/internal/rbac"
	"github.com/tallyard/tallyard/internal/shared"
	"github.com/tallyard/tallyard/internal/users"
)

const rateWindow = time.Minute

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	RBACHandler    *rbac.Handler
	UsersHandler   *users.Handler
	AuditHandler   *audit.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with Tallyard defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	// Session bootstrap for API clients: exposes the CSRF token to send on
	// mutating requests.
	r.Get("/session", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		token, err := params.CSRFManager.EnsureToken(r.Context(), sess)
		if err != nil {
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{
			"user_id":    sess.User(),
			"csrf_token": token,
		})
	})

	rateLimit := 60
	if params.Config != nil && params.Config.AdminRateLimit > 0 {
		rateLimit = params.Config.AdminRateLimit
	}

	r.Route("/rbac", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rateLimit, rateWindow))
		params.RBACHandler.MountRoutes(r)
	})
	r.Route("/users", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rateLimit, rateWindow))
		params.UsersHandler.MountRoutes(r)
	})
	if params.AuditHandler != nil {
		r.Route("/audit", func(r chi.Router) {
			r.Use(httprate.LimitByIP(rateLimit, rateWindow))
			params.AuditHandler.MountRoutes(r)
		})
	}

	return r
}
