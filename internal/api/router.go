package api

import (
	"context"
	"net/http"
	"time"

	"github.com/alecgard/annex/internal/audit"
	"github.com/alecgard/annex/internal/auth"
	"github.com/alecgard/annex/internal/directory"
	"github.com/alecgard/annex/internal/metrics"
	"github.com/alecgard/annex/internal/migration"
	"github.com/alecgard/annex/internal/org"
	"github.com/alecgard/annex/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Pinger is the health-check view of the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Engine         *migration.Engine
	Store          directory.Store
	Orgs           *org.Resolver
	AuditStore     *audit.Store
	Recorder       *audit.Recorder
	Metrics        *metrics.Metrics
	Limiter        *ratelimit.Limiter
	AdminKey       string
	AllowedOrigins []string
	DB             Pinger
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	r.Use(slogRequestLogger)

	ops := newOpsHandler(deps.Engine, deps.Store, deps.Orgs, deps.Recorder, deps.Metrics)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"status": "ok", "database": "connected"}
		if deps.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.DB.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "degraded",
					"database": "unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	// Admin routes (require admin key).
	r.Route("/api/v1/admin", func(ar chi.Router) {
		var onAuthFailure, onRateLimited func()
		if deps.Metrics != nil {
			onAuthFailure = deps.Metrics.IncAuthFailure
			onRateLimited = deps.Metrics.IncRateLimitRejection
		}
		ar.Use(auth.AdminAuthMiddleware(auth.NewKeyVerifier(deps.AdminKey), onAuthFailure))
		if deps.Limiter != nil {
			ar.Use(ratelimit.Middleware(deps.Limiter, onRateLimited))
		}

		// Migration operations.
		ar.Post("/orgs/{orgID}/users", ops.MigrateUser)
		ar.Delete("/orgs/{orgID}/users/{userID}", ops.RemoveUser)
		ar.Post("/orgs/{orgID}/teams", ops.MoveTeam)
		ar.Delete("/orgs/{orgID}/teams/{teamID}", ops.RemoveTeam)

		// Operator visibility.
		ar.Get("/orgs/{orgID}", ops.GetOrg)
		ar.Get("/users/{userID}", ops.GetUser)
		if deps.AuditStore != nil {
			ah := &auditHandler{store: deps.AuditStore}
			ar.Get("/audit", ah.ListEvents)
		}
		if deps.Metrics != nil {
			ar.Get("/metrics", deps.Metrics.Handler())
		}
	})

	return r
}
