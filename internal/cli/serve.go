package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"releasepipe/internal/api"
	"releasepipe/internal/config"
	"releasepipe/internal/health"
	"releasepipe/internal/observability"
	"releasepipe/internal/runs"
)

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.String("port", "", "API listen port")
	f.String("metrics-port", "", "metrics listen port")
	_ = a.v.BindPFlag("server.port", f.Lookup("port"))
	_ = a.v.BindPFlag("server.metrics_port", f.Lookup("metrics-port"))

	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	c, err := build(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	logger.Info("Connected to Docker daemon")

	// Containers from a previous process would otherwise leak.
	if err := c.docker.Prune(ctx); err != nil {
		logger.Warn("Failed to prune leftover resources", "error", err)
	}

	healthChecker := health.NewChecker(c.readiness)

	runService := runs.NewService(c.scheduler, runs.Options{
		Retention:           cfg.Server.RunRetention,
		MaintenanceInterval: cfg.Server.MaintenanceInterval,
		Metrics:             metrics,
		Logger:              logger,
	})

	apiKey := config.GetSecretFile(cfg.Server.APIKeyFile)
	router := api.NewRouter(api.RouterConfig{
		Runs:          runService,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        apiKey,
		Logger:        logger,
	})

	if apiKey != "" {
		logger.Info("API authentication enabled")
	} else {
		logger.Warn("API authentication disabled - no API key file configured")
	}

	apiServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.Server.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 2)

	go func() {
		logger.Info("Starting API server", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		logger.Info("Starting metrics server", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	shutdownServers := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server shutdown error", "error", err)
		}
	}

	shutdownRuns := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := runService.Close(shutdownCtx); err != nil {
			logger.Warn("Runs did not finish before shutdown", "error", err)
		}
		c.close(shutdownCtx, logger)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	case err := <-serverErr:
		logger.Error("Server failed to start", "error", err)
		shutdownServers(5 * time.Second)
		shutdownRuns(30 * time.Second)
		return err
	}

	// Phase 1: report unready so load balancers stop routing here
	healthChecker.SetShuttingDown()

	if cfg.Server.ShutdownDrainWait > 0 {
		logger.Info("Waiting for traffic to drain", "duration", cfg.Server.ShutdownDrainWait)
		time.Sleep(cfg.Server.ShutdownDrainWait)
	}

	// Phase 2: stop accepting requests, finish in-flight ones
	logger.Info("Starting graceful shutdown")
	shutdownServers(25 * time.Second)

	// Phase 3: cancel runs still in progress, then drain callbacks and
	// release Docker resources
	shutdownRuns(30 * time.Second)

	logger.Info("Shutdown complete")
	return nil
}
