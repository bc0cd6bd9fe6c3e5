package stage

import (
	"context"
	"errors"
	"sync"

	"releasepipe/internal/credentials"
)

type fakeServices struct {
	mu         sync.Mutex
	started    []ServiceSpec
	stopped    int
	probes     int
	readyAfter int // probe succeeds on this attempt; 0 never
	startErr   error
}

func (f *fakeServices) StartService(_ context.Context, spec ServiceSpec) (*ServiceHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, spec)
	return &ServiceHandle{ID: spec.Name, Network: spec.Name + "-net", Alias: spec.Alias, Port: spec.Port, Host: "127.0.0.1", HostPort: 49153}, nil
}

func (f *fakeServices) Probe(context.Context, *ServiceHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if f.readyAfter > 0 && f.probes >= f.readyAfter {
		return nil
	}
	return errors.New("connection refused")
}

func (f *fakeServices) StopService(context.Context, *ServiceHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

type fakeWorkspaces struct {
	mu       sync.Mutex
	opened   []WorkspaceSpec
	closed   int
	commands []string
	results  map[string]StepResult
}

func (f *fakeWorkspaces) Open(_ context.Context, spec WorkspaceSpec) (Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, spec)
	return &fakeWorkspace{parent: f}, nil
}

type fakeWorkspace struct {
	parent *fakeWorkspaces
}

func (w *fakeWorkspace) Exec(_ context.Context, command string) (StepResult, error) {
	w.parent.mu.Lock()
	defer w.parent.mu.Unlock()
	w.parent.commands = append(w.parent.commands, command)
	if res, ok := w.parent.results[command]; ok {
		return res, nil
	}
	return StepResult{Output: []byte(command + " ok\n")}, nil
}

func (w *fakeWorkspace) Close(context.Context) error {
	w.parent.mu.Lock()
	defer w.parent.mu.Unlock()
	w.parent.closed++
	return nil
}

type fakeBuilder struct {
	mu       sync.Mutex
	builds   []BuildSpec
	saved    []string
	buildErr error
}

func (f *fakeBuilder) Build(_ context.Context, spec BuildSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, spec)
	return f.buildErr
}

func (f *fakeBuilder) Save(_ context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, ref)
	return []byte("archive:" + ref), nil
}

type fakeRegistry struct {
	mu       sync.Mutex
	loaded   []string
	logins   int
	pushes   []string
	leases   []*credentials.Lease
	loginErr error
	pushErr  error
}

func (f *fakeRegistry) Load(_ context.Context, archive []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = append(f.loaded, string(archive))
	return nil
}

func (f *fakeRegistry) Login(_ context.Context, lease *credentials.Lease) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	f.leases = append(f.leases, lease)
	return f.loginErr
}

func (f *fakeRegistry) Push(_ context.Context, source, target string, _ *credentials.Lease) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, source+"->"+target)
	return f.pushErr
}

type fakeCoverage struct {
	mu      sync.Mutex
	reports []CoverageReport
}

func (f *fakeCoverage) Coverage(_ context.Context, r CoverageReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}
