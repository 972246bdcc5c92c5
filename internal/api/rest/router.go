package rest

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/regsentry/regulatory-monitor-backend/internal/infrastructure/cache"
	"github.com/regsentry/regulatory-monitor-backend/internal/metrics"
)

// RouterConfig assembles the API's cross-cutting pieces. Dashboard, rate
// limiter, and registry are optional; nil disables the corresponding
// behavior.
type RouterConfig struct {
	Handler           *Handler
	Health            *HealthHandler
	Dashboard         http.Handler
	RateLimiter       cache.RateLimiter
	RequestsPerMinute int
	Registry          *metrics.Registry
	Logger            *slog.Logger
}

// NewRouter builds the full route table with the standard middleware chain.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", cfg.Health.Liveness)
	mux.HandleFunc("GET /readyz", cfg.Health.Readiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/cycle/latest", cfg.Handler.GetLatestReport)
	mux.HandleFunc("GET /api/v1/cycle/history", cfg.Handler.ListReports)
	mux.HandleFunc("GET /api/v1/changes", cfg.Handler.ListChanges)
	mux.HandleFunc("GET /api/v1/action-plan", cfg.Handler.GetActionPlan)
	mux.HandleFunc("GET /api/v1/jobs/status", cfg.Handler.ListJobs)
	mux.HandleFunc("POST /api/v1/jobs/{name}/trigger", cfg.Handler.TriggerJob)

	if cfg.Dashboard != nil {
		mux.Handle("GET /ws/dashboard", cfg.Dashboard)
	}

	middlewares := []Middleware{
		recoveryMiddleware(cfg.Logger),
		requestIDMiddleware(),
		loggingMiddleware(cfg.Logger, cfg.Registry),
	}
	if cfg.RateLimiter != nil && cfg.RequestsPerMinute > 0 {
		middlewares = append(middlewares, rateLimitMiddleware(cfg.RateLimiter, cfg.RequestsPerMinute, cfg.Logger))
	}

	return chain(mux, middlewares...)
}
