package executor

import (
	"fmt"
	"sync"

	"github.com/armadaproject/runplane/internal/runplane/configuration"
)

// BackendFactory builds a backend for a pool. Factories may return the same
// backend for pools that share a client.
type BackendFactory func(pool configuration.PoolConfiguration) (Backend, error)

type BackendRegistry struct {
	mu        sync.Mutex
	factories map[Kind]BackendFactory
}

func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{factories: map[Kind]BackendFactory{}}
}

func (r *BackendRegistry) Register(kind Kind, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

func (r *BackendRegistry) Build(pool configuration.PoolConfiguration) (Backend, error) {
	r.mu.Lock()
	factory, ok := r.factories[Kind(pool.Backend)]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pool %s uses unsupported backend %q", pool.Name, pool.Backend)
	}
	return factory(pool)
}
