package stage

import (
	"context"

	"releasepipe/internal/apperrors"
	"releasepipe/internal/scheduler"
)

// DocsConfig configures the documentation build.
type DocsConfig struct {
	Image   string
	Install string
	Build   string
}

// DocsJob builds and validates documentation.
type DocsJob struct {
	cfg        DocsConfig
	workspaces Workspaces
}

// NewDocs creates the docs job body.
func NewDocs(cfg DocsConfig, workspaces Workspaces) *DocsJob {
	return &DocsJob{cfg: cfg, workspaces: workspaces}
}

// Run installs dependencies and builds the docs.
func (j *DocsJob) Run(ctx context.Context, exec *scheduler.Execution) error {
	ws, err := j.workspaces.Open(ctx, WorkspaceSpec{
		Name:   resourceName(exec),
		Image:  j.cfg.Image,
		Labels: labels(exec),
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.Internal("docs.workspace", err)
	}
	defer teardown(ctx, exec.Logger, "workspace", ws.Close)

	if _, err := runStep(ctx, exec.Logger, ws, "docs.install", j.cfg.Install); err != nil {
		return err
	}
	_, err = runStep(ctx, exec.Logger, ws, "docs.build", j.cfg.Build)
	return err
}
