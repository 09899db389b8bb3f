// Package dispatch moves READY tasks onto backends and owns the task lifecycle operations
// that do not come from reconciliation: submission, cancellation and recovery.
package dispatch

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/runplane/internal/runplane/metrics"
	"github.com/armadaproject/runplane/internal/runplane/pool"
	"github.com/armadaproject/runplane/internal/runplane/status"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

// Dispatcher pops tasks from every pool's scheduler against its idle devices and starts them.
type Dispatcher struct {
	pools   pool.Provider
	cache   *task.Cache
	metrics *metrics.Metrics
	trigger chan struct{}
}

func NewDispatcher(pools pool.Provider, cache *task.Cache, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		pools:   pools,
		cache:   cache,
		metrics: m,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger asks for a dispatch pass as soon as possible without blocking the caller.
func (d *Dispatcher) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run dispatches every interval and on every trigger until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.trigger:
		}
		d.TickWithContext(ctx)
	}
}

func (d *Dispatcher) Tick() int {
	return d.TickWithContext(context.Background())
}

// TickWithContext runs one dispatch pass over all pools and returns the number of started runs.
func (d *Dispatcher) TickWithContext(ctx context.Context) int {
	started := 0
	for _, p := range d.pools.Pools() {
		started += d.dispatchPool(ctx, p)
	}
	return started
}

func (d *Dispatcher) dispatchPool(ctx context.Context, p *pool.Pool) int {
	started := 0
	for _, view := range p.Scheduler.Schedule(p.Devices.IdleCounts()) {
		logger := log.WithField("taskId", view.Id()).WithField("pool", p.Name)

		watchable, present := d.cache.Get(view.Id())
		if !present || watchable.Status() != status.TaskReady {
			logger.Infof("Not starting task, it is no longer ready")
			continue
		}

		// Claimed before the unit exists so a report for it never finds the task READY.
		if !watchable.UpdateStatus(status.TaskAssigning, nil) {
			logger.Infof("Not starting task, it could not be claimed from %s", watchable.Status())
			continue
		}
		if _, err := p.Executor.Start(ctx, watchable.Task(), watchable.Spec()); err != nil {
			logger.Errorf("Failed to start task: %v", err)
			d.metrics.RecordStartFailure(p.Name)
			// Re-queued here rather than by the scheduler watcher, which would trigger another pass at once.
			if watchable.UpdateStatus(status.TaskReady, task.Suppress(SchedulerWatcherId)) {
				p.Scheduler.Adopt([]task.View{watchable}, watchable.DeviceClass())
			}
			continue
		}
		started++
	}
	return started
}
