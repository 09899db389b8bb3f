// Package pool resolves the configured resource pools into dispatch lanes, each with its own
// queue, device slots and executor.
package pool

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/runplane/internal/runplane/configuration"
	"github.com/armadaproject/runplane/internal/runplane/executor"
	"github.com/armadaproject/runplane/internal/runplane/scheduler"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

type ErrUnknownPool struct {
	Name string
}

func (e *ErrUnknownPool) Error() string {
	return "unknown resource pool " + e.Name
}

type Pool struct {
	Name      string
	Scheduler *scheduler.DeviceScheduler
	Devices   *scheduler.DevicePool
	Executor  executor.RunExecutor
}

// Provider exposes the current resource pools. Callers ask again on every poll, so an
// implementation may change its answer over time.
type Provider interface {
	Pools() []*Pool
	Get(name string) (*Pool, error)
}

type Registry struct {
	pools map[string]*Pool
	names []string
}

func NewRegistry(pools ...*Pool) *Registry {
	r := &Registry{pools: map[string]*Pool{}}
	for _, p := range pools {
		r.pools[p.Name] = p
		r.names = append(r.names, p.Name)
	}
	slices.Sort(r.names)
	return r
}

// FromConfiguration builds one lane per configured pool. Pools that share a backend client
// share the backend instance the factory hands out.
func FromConfiguration(configs []configuration.PoolConfiguration, backends *executor.BackendRegistry, runs executor.RunRecorder) (*Registry, error) {
	pools := make([]*Pool, 0, len(configs))
	for _, config := range configs {
		backend, err := backends.Build(config)
		if err != nil {
			return nil, errors.WithMessagef(err, "building backend for pool %s", config.Name)
		}
		devices := scheduler.NewDevicePool(config.Devices)
		pools = append(pools, &Pool{
			Name:      config.Name,
			Scheduler: scheduler.NewDeviceScheduler(),
			Devices:   devices,
			Executor:  executor.NewBackendRunExecutor(config.Name, backend, devices, runs),
		})
	}
	return NewRegistry(pools...), nil
}

func (r *Registry) Pools() []*Pool {
	result := make([]*Pool, 0, len(r.names))
	for _, name := range r.names {
		result = append(result, r.pools[name])
	}
	return result
}

func (r *Registry) Get(name string) (*Pool, error) {
	p, present := r.pools[name]
	if !present {
		return nil, &ErrUnknownPool{Name: name}
	}
	return p, nil
}

func (r *Registry) ExecutorFor(name string) (executor.RunExecutor, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return p.Executor, nil
}

// Release gives back the device slot a task holds in a pool.
func (r *Registry) Release(poolName string, taskId string) bool {
	p, err := r.Get(poolName)
	if err != nil {
		return false
	}
	return p.Devices.Release(taskId)
}

// Queue adopts ready tasks into the scheduler of the pool they belong to.
func (r *Registry) Queue(tasks ...task.View) error {
	for _, t := range tasks {
		p, err := r.Get(t.Pool())
		if err != nil {
			return err
		}
		p.Scheduler.Adopt([]task.View{t}, t.DeviceClass())
	}
	return nil
}
