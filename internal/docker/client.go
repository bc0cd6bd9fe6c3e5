// Package docker implements the pipeline capabilities on a Docker daemon:
// ephemeral services, command workspaces, image builds and registry pushes.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

// Labels stamped on every container and network this package creates.
const (
	labelManagedBy = "managed-by"
	managedBy      = "releasepipe"
	labelRole      = "releasepipe.role"
)

const stopTimeoutSeconds = 10

// Config holds settings for the Docker capabilities. Zero values use defaults.
type Config struct {
	ServiceHost string       // address published service ports bind to (default 127.0.0.1)
	SourceDir   string       // source tree copied into workspaces and used as build context
	WorkDir     string       // path of the source tree inside workspaces (default /workspace)
	Prober      Prober       // readiness probe for services (default PostgresProbe)
	Logger      *slog.Logger // default slog.Default()
}

// Client wraps a Docker API client and tracks what it created.
type Client struct {
	api         *client.Client
	serviceHost string
	sourceDir   string
	workDir     string
	prober      Prober
	logger      *slog.Logger
	state       *stateRepo
}

// New connects to the daemon configured in the environment.
func New(cfg Config) (*Client, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	c := &Client{
		api:         api,
		serviceHost: cfg.ServiceHost,
		sourceDir:   cfg.SourceDir,
		workDir:     cfg.WorkDir,
		prober:      cfg.Prober,
		logger:      cfg.Logger,
		state:       newStateRepo(),
	}
	if c.serviceHost == "" {
		c.serviceHost = "127.0.0.1"
	}
	if c.sourceDir == "" {
		c.sourceDir = "."
	}
	if c.workDir == "" {
		c.workDir = "/workspace"
	}
	if c.prober == nil {
		c.prober = PostgresProbe
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "docker")
	return c, nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (c *Client) Ready(ctx context.Context) error {
	_, err := c.api.Ping(ctx)
	return err
}

// Close removes anything still tracked and closes the API client.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, name := range c.state.names() {
		if res, ok := c.state.release(name); ok && res != nil {
			c.cleanup(ctx, res)
		}
	}
	return c.api.Close()
}

// Prune removes containers and networks left behind by an earlier process,
// found by their managed-by label.
func (c *Client) Prune(ctx context.Context) error {
	logger := c.logger.With("op", "prune")
	args := filters.NewArgs(filters.Arg("label", labelManagedBy+"="+managedBy))

	containers, err := c.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}
	for _, ctr := range containers {
		c.removeContainer(ctx, ctr.ID)
	}

	networks, err := c.api.NetworkList(ctx, network.ListOptions{Filters: args})
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}
	for _, nw := range networks {
		_ = c.api.NetworkRemove(ctx, nw.ID)
	}

	logger.Info("Prune complete", "containers", len(containers), "networks", len(networks))
	return nil
}

func (c *Client) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err := c.api.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	c.logger.Info("Pulling image", "image", imageName)
	reader, err := c.api.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (c *Client) cleanup(ctx context.Context, res *resource) {
	c.removeContainer(ctx, res.containerID)
	if res.networkID != "" {
		if err := c.api.NetworkRemove(ctx, res.networkID); err != nil {
			c.logger.Warn("Failed to remove network", "network", res.networkID, "error", err)
		}
	}
}

func (c *Client) removeContainer(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}
	timeout := stopTimeoutSeconds
	_ = c.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	_ = c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
}

func labelsWith(base map[string]string, role string) map[string]string {
	out := make(map[string]string, len(base)+2)
	for k, v := range base {
		out[k] = v
	}
	out[labelManagedBy] = managedBy
	out[labelRole] = role
	return out
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
