package docker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"

	"releasepipe/internal/stage"
)

// StartService creates a private network, then starts the service container
// on it with its port published on the service host.
func (c *Client) StartService(ctx context.Context, spec stage.ServiceSpec) (*stage.ServiceHandle, error) {
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

	netName := spec.Name + "-net"
	nw, err := c.api.NetworkCreate(ctx, netName, network.CreateOptions{
		Driver: "bridge",
		Labels: labelsWith(spec.Labels, "network"),
	})
	if err != nil {
		return nil, fmt.Errorf("create network %s: %w", netName, err)
	}
	res.networkID = nw.ID

	port, err := nat.NewPort("tcp", strconv.Itoa(spec.Port))
	if err != nil {
		return nil, fmt.Errorf("invalid service port %d: %w", spec.Port, err)
	}

	containerConfig := &container.Config{
		Image:        spec.Image,
		Env:          envList(spec.Env),
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels:       labelsWith(spec.Labels, "service"),
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: c.serviceHost, HostPort: ""}},
		},
	}
	networkConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			netName: {Aliases: []string{spec.Alias}},
		},
	}

	created, err := c.api.ContainerCreate(ctx, containerConfig, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("create service container: %w", err)
	}
	res.containerID = created.ID

	if err := c.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start service container: %w", err)
	}

	hostPort, err := c.publishedPort(ctx, created.ID, port)
	if err != nil {
		return nil, err
	}

	c.state.commit(spec.Name, res)
	committed = true
	c.logger.Info("Service started", "service", spec.Name, "image", spec.Image, "hostPort", hostPort)

	return &stage.ServiceHandle{
		ID:       spec.Name,
		Network:  netName,
		Alias:    spec.Alias,
		Port:     spec.Port,
		Host:     c.serviceHost,
		HostPort: hostPort,
	}, nil
}

// Probe runs the readiness probe against the published port.
func (c *Client) Probe(ctx context.Context, h *stage.ServiceHandle) error {
	res, ok := c.state.get(h.ID)
	if !ok || res == nil {
		return fmt.Errorf("service %s is not running", h.ID)
	}
	inspect, err := c.api.ContainerInspect(ctx, res.containerID)
	if err != nil {
		return fmt.Errorf("inspect service: %w", err)
	}
	if inspect.State == nil || !inspect.State.Running {
		return fmt.Errorf("service container exited")
	}
	return c.prober(ctx, h.Host, h.HostPort, res.env)
}

// StopService removes the container and its network.
func (c *Client) StopService(ctx context.Context, h *stage.ServiceHandle) error {
	res, ok := c.state.release(h.ID)
	if !ok || res == nil {
		return nil
	}
	c.cleanup(ctx, res)
	c.logger.Debug("Service stopped", "service", h.ID)
	return nil
}

func (c *Client) publishedPort(ctx context.Context, containerID string, port nat.Port) (int, error) {
	inspect, err := c.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return 0, fmt.Errorf("inspect service: %w", err)
	}
	if inspect.NetworkSettings == nil {
		return 0, fmt.Errorf("service has no network settings")
	}
	bindings := inspect.NetworkSettings.Ports[port]
	if len(bindings) == 0 {
		return 0, fmt.Errorf("port %s was not published", port)
	}
	hostPort, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		return 0, fmt.Errorf("invalid published port %q: %w", bindings[0].HostPort, err)
	}
	return hostPort, nil
}

var _ stage.ServiceProvider = (*Client)(nil)
