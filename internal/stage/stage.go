// Package stage implements the bodies of the release jobs against injected
// capabilities, so the same jobs run on Docker or on in-process fakes.
package stage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/credentials"
	"releasepipe/internal/pipeline"
	"releasepipe/internal/scheduler"
)

const (
	teardownTimeout = 30 * time.Second
	outputTailLines = 20
)

// Label keys stamped on everything a job creates.
const (
	LabelRunID    = "releasepipe.run-id"
	LabelInstance = "releasepipe.instance"
	LabelManaged  = "managed-by"
	managedBy     = "releasepipe"
)

// Deps are the capabilities the release jobs need.
type Deps struct {
	Services    ServiceProvider
	Workspaces  Workspaces
	Builder     ImageBuilder
	Registry    Registry
	Credentials credentials.Provider
	Coverage    CoverageSink
}

// Config groups per-job settings.
type Config struct {
	Tests   TestsConfig
	Docs    DocsConfig
	Docker  DockerConfig
	Publish PublishConfig
}

// Tasks wires one task per release job.
func Tasks(cfg Config, deps Deps) map[pipeline.JobID]scheduler.Task {
	coverage := deps.Coverage
	if coverage == nil {
		coverage = LogCoverage{}
	}
	return map[pipeline.JobID]scheduler.Task{
		pipeline.JobTests:   NewTests(cfg.Tests, deps.Services, deps.Workspaces, coverage),
		pipeline.JobDocs:    NewDocs(cfg.Docs, deps.Workspaces),
		pipeline.JobDocker:  NewDocker(cfg.Docker, deps.Builder),
		pipeline.JobPublish: NewPublish(cfg.Publish, deps.Registry, deps.Credentials),
	}
}

// LocalImageTag is the tag an image is built and loaded under on the Docker
// host. The run ID suffix keeps concurrent runs of the same ref from
// retagging each other's image between build, save, load and push.
func LocalImageTag(name, ver, runID string) string {
	suffix := []byte(runID)
	if len(suffix) > 12 {
		suffix = suffix[:12]
	}
	for i, c := range suffix {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.', c == '-':
		default:
			suffix[i] = '-'
		}
	}
	return fmt.Sprintf("%s:%s-%s", name, ver, suffix)
}

func labels(exec *scheduler.Execution) map[string]string {
	return map[string]string{
		LabelRunID:    exec.RunID,
		LabelInstance: exec.Key(),
		LabelManaged:  managedBy,
	}
}

// runStep executes one command. Empty commands are skipped.
func runStep(ctx context.Context, logger *slog.Logger, ws Workspace, op, command string) (StepResult, error) {
	if command == "" {
		logger.Debug("Step skipped, no command configured", "step", op)
		return StepResult{}, nil
	}

	start := time.Now()
	res, err := ws.Exec(ctx, command)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, apperrors.Step(op, -1, err)
	}
	if res.ExitCode != 0 {
		logger.Warn("Step failed", "step", op, "exitCode", res.ExitCode, "output", tail(res.Output, outputTailLines))
		return res, apperrors.Step(op, res.ExitCode, nil)
	}
	logger.Info("Step succeeded", "step", op, "duration", time.Since(start))
	return res, nil
}

// teardown runs fn with a fresh deadline so cleanup survives cancellation.
func teardown(ctx context.Context, logger *slog.Logger, what string, fn func(context.Context) error) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := fn(cleanupCtx); err != nil {
		logger.Warn("Teardown failed", "resource", what, "error", err)
	}
}

// tail returns the last n lines of output.
func tail(output []byte, n int) string {
	lines := bytes.Split(bytes.TrimRight(output, "\n"), []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte("\n")))
}

// LogCoverage writes coverage summaries to the log when no aggregator is configured.
type LogCoverage struct {
	Logger *slog.Logger
}

// Coverage logs the last lines of the report.
func (l LogCoverage) Coverage(_ context.Context, report CoverageReport) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Coverage report",
		"runId", report.RunID,
		"instance", report.Instance,
		"bytes", len(report.Output),
		"summary", tail(report.Output, outputTailLines))
	return nil
}
