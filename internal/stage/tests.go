package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/pipeline"
	"releasepipe/internal/scheduler"
	"releasepipe/pkg/backoff"
)

// TestsConfig configures one tests matrix instance.
type TestsConfig struct {
	DatabaseImage    string
	DatabasePort     int
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string
	Readiness        backoff.Policy
	Image            string // toolchain image for the commands
	Install          string
	Frontend         string
	Test             string
	Coverage         string
}

// TestsJob runs the test suite against one database version.
type TestsJob struct {
	cfg        TestsConfig
	services   ServiceProvider
	workspaces Workspaces
	coverage   CoverageSink
}

// NewTests creates the tests job body.
func NewTests(cfg TestsConfig, services ServiceProvider, workspaces Workspaces, coverage CoverageSink) *TestsJob {
	return &TestsJob{cfg: cfg, services: services, workspaces: workspaces, coverage: coverage}
}

// Run starts the database, waits until it is ready, then runs install,
// frontend, test and coverage in order. The service and workspace are
// always torn down.
func (j *TestsJob) Run(ctx context.Context, exec *scheduler.Execution) error {
	dbVersion := exec.Binding[pipeline.AxisDatabaseVersion]
	if dbVersion == "" {
		return apperrors.Validation(pipeline.AxisDatabaseVersion, "tests instance has no database version binding")
	}
	logger := exec.Logger.With("databaseVersion", dbVersion)
	name := resourceName(exec)

	svc, err := j.services.StartService(ctx, ServiceSpec{
		Name:  name + "-db",
		Alias: "database",
		Image: fmt.Sprintf("%s:%s", j.cfg.DatabaseImage, dbVersion),
		Port:  j.cfg.DatabasePort,
		Env: map[string]string{
			"POSTGRES_DB":       j.cfg.DatabaseName,
			"POSTGRES_USER":     j.cfg.DatabaseUser,
			"POSTGRES_PASSWORD": j.cfg.DatabasePassword,
		},
		Labels: labels(exec),
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.Transient("tests.service", err)
	}
	defer teardown(ctx, logger, "service", func(ctx context.Context) error {
		return j.services.StopService(ctx, svc)
	})

	if err := j.waitReady(ctx, logger, svc); err != nil {
		return err
	}

	ws, err := j.workspaces.Open(ctx, WorkspaceSpec{
		Name:    name,
		Image:   j.cfg.Image,
		Network: svc.Network,
		Env: map[string]string{
			"DB_HOST":     svc.Alias,
			"DB_PORT":     strconv.Itoa(svc.Port),
			"DB_NAME":     j.cfg.DatabaseName,
			"DB_USER":     j.cfg.DatabaseUser,
			"DB_PASSWORD": j.cfg.DatabasePassword,
		},
		Labels: labels(exec),
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.Internal("tests.workspace", err)
	}
	defer teardown(ctx, logger, "workspace", ws.Close)

	steps := []struct{ op, command string }{
		{"tests.install", j.cfg.Install},
		{"tests.frontend", j.cfg.Frontend},
		{"tests.test", j.cfg.Test},
	}
	for _, step := range steps {
		if _, err := runStep(ctx, logger, ws, step.op, step.command); err != nil {
			return err
		}
	}

	res, err := runStep(ctx, logger, ws, "tests.coverage", j.cfg.Coverage)
	if err != nil {
		return err
	}
	if j.cfg.Coverage != "" {
		report := CoverageReport{RunID: exec.RunID, Instance: exec.Key(), Binding: exec.Binding, Output: res.Output}
		if err := j.coverage.Coverage(ctx, report); err != nil {
			logger.Warn("Failed to hand off coverage report", "error", err)
		}
	}
	return nil
}

// waitReady polls the service with bounded backoff. Running out of attempts
// is a transient infrastructure failure of this instance.
func (j *TestsJob) waitReady(ctx context.Context, logger *slog.Logger, svc *ServiceHandle) error {
	err := j.cfg.Readiness.Retry(ctx, func(ctx context.Context, attempt int) error {
		err := j.services.Probe(ctx, svc)
		if err != nil {
			logger.Debug("Service not ready", "attempt", attempt, "error", err)
		}
		return err
	})
	if err == nil {
		logger.Info("Service ready", "service", svc.Alias)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return apperrors.Transient("tests.readiness", err)
}

// resourceName derives a container-safe name for the instance.
func resourceName(exec *scheduler.Execution) string {
	runID := exec.RunID
	if len(runID) > 12 {
		runID = runID[:12]
	}
	parts := []string{"releasepipe", runID, string(exec.Job)}
	if v := exec.Binding[pipeline.AxisDatabaseVersion]; v != "" {
		parts = append(parts, v)
	}
	return sanitize(strings.Join(parts, "-"))
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
