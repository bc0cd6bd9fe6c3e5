package api

import (
	"log/slog"
	"net/http"

	"releasepipe/internal/health"
	"releasepipe/internal/observability"
	"releasepipe/internal/runs"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Runs          *runs.Service
	Metrics       *observability.Metrics // optional
	HealthChecker *health.Checker
	APIKey        string // empty disables authentication
	Logger        *slog.Logger
}

// NewRouter creates the HTTP handler with every route and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handler := NewHandler(cfg.Runs, cfg.HealthChecker, logger)

	mux := http.NewServeMux()

	// Probes - no auth
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/runs", auth(http.HandlerFunc(handler.CreateRun)))
	mux.Handle("GET /v1/runs", auth(http.HandlerFunc(handler.ListRuns)))
	mux.Handle("GET /v1/runs/{runId}", auth(http.HandlerFunc(handler.GetRun)))
	mux.Handle("DELETE /v1/runs/{runId}", auth(http.HandlerFunc(handler.CancelRun)))
	mux.Handle("GET /v1/versions", auth(http.HandlerFunc(handler.ResolveVersion)))

	// Outermost last
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware(logger)(h)
	h = RecoveryMiddleware(logger)(h)

	return h
}
