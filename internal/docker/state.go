package docker

import (
	"sync"

	"releasepipe/internal/apperrors"
)

// resource holds what one service or workspace created on the daemon.
type resource struct {
	containerID string
	networkID   string
	env         map[string]string
}

// stateRepo tracks live resources with thread-safe access.
type stateRepo struct {
	mu        sync.RWMutex
	resources map[string]*resource
}

func newStateRepo() *stateRepo {
	return &stateRepo{
		resources: make(map[string]*resource),
	}
}

// reserve claims a name. The slot holds nil until commit is called.
func (r *stateRepo) reserve(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[name]; exists {
		return apperrors.Conflict("container", name, "container "+name+" already exists")
	}
	r.resources[name] = nil
	return nil
}

// commit fills a reserved slot.
func (r *stateRepo) commit(name string, res *resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[name] = res
}

// release removes a name and returns its resource if it existed.
func (r *stateRepo) release(name string) (*resource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, exists := r.resources[name]
	if exists {
		delete(r.resources, name)
	}
	return res, exists
}

// get returns (nil, true) for a reserved but uncommitted name.
func (r *stateRepo) get(name string) (*resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, exists := r.resources[name]
	return res, exists
}

// names returns every tracked name.
func (r *stateRepo) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.resources))
	for name := range r.resources {
		names = append(names, name)
	}
	return names
}
