// Package httptransport is the thin HTTP layer over the engines: handlers
// delegate to domain services and translate coded errors to status codes,
// with no business logic of their own.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mirrorstore "h2ledger/internal/mirror/store"
	"h2ledger/internal/platform/metrics"
	"h2ledger/internal/platform/middleware"
	"h2ledger/internal/platform/ratelimit"
	"h2ledger/pkg/platform/httputil"
)

// HealthChecker reports dependency liveness for /healthz.
type HealthChecker func(ctx context.Context) error

// Deps carries everything the router wires together.
type Deps struct {
	Verification VerificationService
	Producers    ProducerReader
	Ledger       LedgerService
	Marketplace  MarketplaceService
	Mirror       mirrorstore.Store

	Validator middleware.TokenValidator
	Limiter   ratelimit.Limiter
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Health    []HealthChecker
}

// NewRouter builds the full route tree: open health and metrics endpoints,
// authenticated command routes, and authenticated mirror queries.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Observe(deps.Metrics, deps.Logger))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", handleHealth(deps.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.Validator, deps.Logger))
		if deps.Limiter != nil {
			r.Use(middleware.RateLimit(deps.Limiter, deps.Logger))
		}

		NewLedgerHandler(deps.Ledger, deps.Logger).Register(r)
		NewMarketplaceHandler(deps.Marketplace, deps.Logger).Register(r)
		NewQueryHandler(deps.Mirror).Register(r)
		NewVerificationHandler(deps.Verification, deps.Producers, deps.Logger).Register(r)
	})

	return r
}

func handleHealth(checks []HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable,
					map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
