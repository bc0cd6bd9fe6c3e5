package stage

import (
	"context"

	"releasepipe/internal/credentials"
	"releasepipe/internal/pipeline"
)

// ServiceSpec describes an ephemeral auxiliary service such as a database.
type ServiceSpec struct {
	Name   string // unique per run instance; used for container and network names
	Alias  string // host name the service answers to inside its network
	Image  string
	Port   int // container port the service listens on
	Env    map[string]string
	Labels map[string]string
}

// ServiceHandle locates a started service.
type ServiceHandle struct {
	ID       string
	Network  string // network a workspace joins to reach the service
	Alias    string
	Port     int    // container port, reachable as Alias:Port inside Network
	Host     string // address reachable from this process
	HostPort int    // published port on Host
}

// ServiceProvider starts, probes and stops ephemeral services.
// Probe returns nil once the service accepts work.
type ServiceProvider interface {
	StartService(ctx context.Context, spec ServiceSpec) (*ServiceHandle, error)
	Probe(ctx context.Context, h *ServiceHandle) error
	StopService(ctx context.Context, h *ServiceHandle) error
}

// WorkspaceSpec describes the environment opaque build and test commands run in.
type WorkspaceSpec struct {
	Name    string
	Image   string
	Network string
	Env     map[string]string
	Labels  map[string]string
}

// StepResult is the outcome of one command. A non-zero exit code is a step
// failure, not an execution error.
type StepResult struct {
	ExitCode int
	Output   []byte
}

// Workspace runs shell commands against the checked-out source tree.
type Workspace interface {
	Exec(ctx context.Context, command string) (StepResult, error)
	Close(ctx context.Context) error
}

// Workspaces opens workspaces.
type Workspaces interface {
	Open(ctx context.Context, spec WorkspaceSpec) (Workspace, error)
}

// BuildSpec describes an image build.
type BuildSpec struct {
	Tag        string
	Dockerfile string
	ContextDir string
	BuildArgs  map[string]string
	Labels     map[string]string
}

// ImageBuilder builds images and serialises them to a portable archive.
type ImageBuilder interface {
	Build(ctx context.Context, spec BuildSpec) error
	Save(ctx context.Context, ref string) ([]byte, error)
}

// Registry loads an image archive and pushes it under a new name.
type Registry interface {
	Load(ctx context.Context, archive []byte) error
	Login(ctx context.Context, lease *credentials.Lease) error
	Push(ctx context.Context, source, target string, lease *credentials.Lease) error
}

// CoverageReport is the output of a tests instance's coverage command.
type CoverageReport struct {
	RunID    string
	Instance string
	Binding  pipeline.Binding
	Output   []byte
}

// CoverageSink hands coverage to the external aggregator.
type CoverageSink interface {
	Coverage(ctx context.Context, report CoverageReport) error
}
