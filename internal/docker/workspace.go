package docker

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"

	"releasepipe/internal/stage"
)

// Open starts a long-lived container from the toolchain image and copies the
// source tree into it. Each workspace gets its own copy.
func (c *Client) Open(ctx context.Context, spec stage.WorkspaceSpec) (stage.Workspace, error) {
	if err := c.state.reserve(spec.Name); err != nil {
		return nil, err
	}
	res := &resource{env: spec.Env}
	committed := false
	defer func() {
		if !committed {
			c.state.release(spec.Name)
			c.cleanup(context.WithoutCancel(ctx), res)
		}
	}()

	if err := c.pullImageIfNeeded(ctx, spec.Image); err != nil {
		return nil, fmt.Errorf("pull %s: %w", spec.Image, err)
	}

	containerConfig := &container.Config{
		Image:      spec.Image,
		Entrypoint: []string{"tail", "-f", "/dev/null"},
		Env:        envList(spec.Env),
		WorkingDir: c.workDir,
		Labels:     labelsWith(spec.Labels, "workspace"),
	}
	hostConfig := &container.HostConfig{}
	var networkConfig *network.NetworkingConfig
	if spec.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(spec.Network)
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{spec.Network: {}},
		}
	}

	created, err := c.api.ContainerCreate(ctx, containerConfig, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("create workspace container: %w", err)
	}
	res.containerID = created.ID

	if err := c.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start workspace container: %w", err)
	}

	src := tarDir(c.sourceDir)
	defer src.Close()
	if err := c.api.CopyToContainer(ctx, created.ID, c.workDir, src, container.CopyToContainerOptions{}); err != nil {
		return nil, fmt.Errorf("copy source into workspace: %w", err)
	}

	c.state.commit(spec.Name, res)
	committed = true
	c.logger.Debug("Workspace opened", "workspace", spec.Name, "image", spec.Image)

	return &workspace{client: c, name: spec.Name, containerID: created.ID}, nil
}

type workspace struct {
	client      *Client
	name        string
	containerID string

	closeOnce sync.Once
}

// Exec runs command with /bin/sh in the workspace directory. Stdout and
// stderr are collected together.
func (w *workspace) Exec(ctx context.Context, command string) (stage.StepResult, error) {
	api := w.client.api

	created, err := api.ContainerExecCreate(ctx, w.containerID, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", command},
		WorkingDir:   w.client.workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return stage.StepResult{}, fmt.Errorf("create exec: %w", err)
	}

	attach, err := api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return stage.StepResult{}, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	var output bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&output, &output, attach.Reader)
		copyDone <- err
	}()

	select {
	case err := <-copyDone:
		if err != nil {
			return stage.StepResult{Output: output.Bytes()}, fmt.Errorf("read exec output: %w", err)
		}
	case <-ctx.Done():
		attach.Close()
		<-copyDone
		return stage.StepResult{Output: output.Bytes()}, ctx.Err()
	}

	inspect, err := api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return stage.StepResult{Output: output.Bytes()}, fmt.Errorf("inspect exec: %w", err)
	}
	return stage.StepResult{ExitCode: inspect.ExitCode, Output: output.Bytes()}, nil
}

// Close removes the workspace container. Safe to call more than once.
func (w *workspace) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		if res, ok := w.client.state.release(w.name); ok && res != nil {
			w.client.cleanup(ctx, res)
		}
		w.client.logger.Debug("Workspace closed", "workspace", w.name)
	})
	return nil
}

var _ stage.Workspaces = (*Client)(nil)
