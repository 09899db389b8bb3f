// Package gc removes the backend units of terminated runs once their grace period elapsed.
package gc

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/runplane/internal/runplane/configuration"
	"github.com/armadaproject/runplane/internal/runplane/executor"
	"github.com/armadaproject/runplane/internal/runplane/metrics"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

const (
	removeAttempts   = 3
	removeRetryDelay = 200 * time.Millisecond
)

// RemovalListener is called after the unit of a run was removed, or given up on.
type RemovalListener func(run task.RunView)

type DelayedGc struct {
	mu          sync.Mutex
	queue       removalQueue
	seq         uint64
	executors   executor.Lookup
	gracePeriod time.Duration
	clock       clock.Clock
	// Runs ever submitted within the dedup window.
	submitted *cache.Cache
	listeners []RemovalListener
	metrics   *metrics.Metrics
}

func NewDelayedGc(config configuration.GcConfiguration, executors executor.Lookup, clock clock.Clock, m *metrics.Metrics) *DelayedGc {
	return &DelayedGc{
		queue:       removalQueue{},
		executors:   executors,
		gracePeriod: config.GracePeriod,
		clock:       clock,
		submitted:   cache.New(config.DedupWindow, config.DedupWindow),
		metrics:     m,
	}
}

func (g *DelayedGc) OnRemoved(listener RemovalListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, listener)
}

// Submit queues the unit of run for removal at max(finishedAt, now) + grace period.
// Returns false if the run was already submitted.
func (g *DelayedGc) Submit(ctx context.Context, run task.RunView, finishedAt time.Time) bool {
	if err := g.submitted.Add(run.Id(), struct{}{}, cache.DefaultExpiration); err != nil {
		log.Debugf("Run %s is already queued for removal", run.Id())
		return false
	}
	if g.gracePeriod <= 0 {
		g.remove(ctx, run)
		return true
	}

	now := g.clock.Now()
	deleteAt := finishedAt
	if now.After(deleteAt) {
		deleteAt = now
	}
	deleteAt = deleteAt.Add(g.gracePeriod)

	g.mu.Lock()
	g.seq++
	heap.Push(&g.queue, &pendingRemoval{run: run, deleteAt: deleteAt, seq: g.seq})
	length := g.queue.Len()
	g.mu.Unlock()

	g.metrics.SetGcQueueLength(length)
	log.Debugf("Unit %s of run %s will be removed at %s", run.UnitName(), run.Id(), deleteAt.Format(time.RFC3339))
	return true
}

// Sweep removes every unit whose removal time has passed.
func (g *DelayedGc) Sweep() {
	g.SweepWithContext(context.Background())
}

func (g *DelayedGc) SweepWithContext(ctx context.Context) {
	for _, run := range g.popDue() {
		g.remove(ctx, run)
	}
}

func (g *DelayedGc) popDue() []task.RunView {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	var due []task.RunView
	for next := g.queue.peek(); next != nil && !next.deleteAt.After(now); next = g.queue.peek() {
		heap.Pop(&g.queue)
		due = append(due, next.run)
	}
	g.metrics.SetGcQueueLength(g.queue.Len())
	return due
}

// remove treats any failure as success once retries are exhausted, the unit is most likely gone already.
func (g *DelayedGc) remove(ctx context.Context, run task.RunView) {
	runExecutor, err := g.executors.ExecutorFor(run.Pool())
	if err == nil {
		err = retry.Do(
			func() error {
				return runExecutor.Remove(ctx, run)
			},
			retry.Attempts(removeAttempts),
			retry.Delay(removeRetryDelay),
			retry.LastErrorOnly(true),
			retry.Context(ctx),
		)
	}
	g.metrics.RecordGcRemoval(err)
	if err != nil {
		log.Debugf("Giving up removing unit %s of run %s: %v", run.UnitName(), run.Id(), err)
	} else {
		log.Infof("Removed unit %s of run %s", run.UnitName(), run.Id())
	}

	g.mu.Lock()
	listeners := make([]RemovalListener, len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.Unlock()
	for _, listener := range listeners {
		listener(run)
	}
}

func (g *DelayedGc) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queue.Len()
}
