package gc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	clock "k8s.io/utils/clock/testing"

	"github.com/armadaproject/runplane/internal/runplane/configuration"
	"github.com/armadaproject/runplane/internal/runplane/executor"
	"github.com/armadaproject/runplane/internal/runplane/metrics"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

var now = time.Date(2022, 6, 1, 10, 0, 0, 0, time.UTC)

type fakeExecutor struct {
	executor.RunExecutor
	mu      sync.Mutex
	removed []string
	err     error
}

func (e *fakeExecutor) Remove(_ context.Context, run task.RunView) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.removed = append(e.removed, run.Id())
	return nil
}

type fakeLookup struct {
	executor *fakeExecutor
}

func (l fakeLookup) ExecutorFor(pool string) (executor.RunExecutor, error) {
	if pool != "default" {
		return nil, errors.Errorf("unknown pool %s", pool)
	}
	return l.executor, nil
}

func setup(grace time.Duration) (*DelayedGc, *fakeExecutor, *clock.FakeClock) {
	e := &fakeExecutor{}
	fakeClock := clock.NewFakeClock(now)
	gc := NewDelayedGc(
		configuration.GcConfiguration{GracePeriod: grace, SweepInterval: time.Second, DedupWindow: time.Hour},
		fakeLookup{executor: e},
		fakeClock,
		metrics.NewMetrics(prometheus.NewRegistry()),
	)
	return gc, e, fakeClock
}

func run(id string) *task.Run {
	return task.NewRun(id, "t-"+id, "default", "runplane-t-"+id+"-1", 1)
}

func TestSubmit_RemovesOnlyAfterGracePeriod(t *testing.T) {
	gc, e, fakeClock := setup(5 * time.Minute)

	assert.True(t, gc.Submit(context.Background(), run("r1"), now))
	assert.Equal(t, 1, gc.Len())

	fakeClock.Step(4*time.Minute + 59*time.Second)
	gc.Sweep()
	assert.Empty(t, e.removed)

	fakeClock.Step(time.Second)
	gc.Sweep()
	assert.Equal(t, []string{"r1"}, e.removed)
	assert.Equal(t, 0, gc.Len())
}

func TestSubmit_PastFinishTimeCountsFromNow(t *testing.T) {
	gc, e, fakeClock := setup(time.Minute)

	gc.Submit(context.Background(), run("r1"), now.Add(-time.Hour))
	gc.Sweep()
	assert.Empty(t, e.removed)

	fakeClock.Step(time.Minute)
	gc.Sweep()
	assert.Equal(t, []string{"r1"}, e.removed)
}

func TestSubmit_NonPositiveGraceRemovesSynchronously(t *testing.T) {
	for _, grace := range []time.Duration{0, -time.Second} {
		gc, e, _ := setup(grace)

		assert.True(t, gc.Submit(context.Background(), run("r1"), now))

		assert.Equal(t, []string{"r1"}, e.removed)
		assert.Equal(t, 0, gc.Len())
	}
}

func TestSubmit_RunEntersQueueOnce(t *testing.T) {
	gc, e, fakeClock := setup(time.Minute)

	assert.True(t, gc.Submit(context.Background(), run("r1"), now))
	assert.False(t, gc.Submit(context.Background(), run("r1"), now))
	assert.Equal(t, 1, gc.Len())

	fakeClock.Step(time.Hour)
	gc.Sweep()
	assert.False(t, gc.Submit(context.Background(), run("r1"), now))
	assert.Equal(t, []string{"r1"}, e.removed)
}

func TestSweep_EqualDeadlinesInInsertionOrder(t *testing.T) {
	gc, e, fakeClock := setup(time.Minute)
	for _, id := range []string{"r3", "r1", "r2"} {
		gc.Submit(context.Background(), run(id), now)
	}
	gc.Submit(context.Background(), run("r0"), now.Add(-time.Hour))

	fakeClock.Step(time.Minute)
	gc.Sweep()

	assert.Equal(t, []string{"r3", "r1", "r2", "r0"}, e.removed)
}

func TestSweep_OrdersByDeadline(t *testing.T) {
	gc, e, fakeClock := setup(time.Minute)
	gc.Submit(context.Background(), run("late"), now.Add(2*time.Minute))
	gc.Submit(context.Background(), run("early"), now.Add(time.Minute))

	fakeClock.Step(2 * time.Minute)
	gc.Sweep()
	assert.Equal(t, []string{"early"}, e.removed)

	fakeClock.Step(time.Minute)
	gc.Sweep()
	assert.Equal(t, []string{"early", "late"}, e.removed)
}

func TestRemove_FailureTreatedAsRemoved(t *testing.T) {
	gc, e, _ := setup(0)
	e.err = errors.New("no such container")
	var notified []string
	gc.OnRemoved(func(run task.RunView) {
		notified = append(notified, run.Id())
	})

	gc.Submit(context.Background(), run("r1"), now)

	assert.Equal(t, []string{"r1"}, notified)
}

func TestRemove_UnknownPool(t *testing.T) {
	gc, e, _ := setup(0)
	var notified []string
	gc.OnRemoved(func(run task.RunView) {
		notified = append(notified, run.Id())
	})

	gc.Submit(context.Background(), task.NewRun("r1", "t1", "gone", "runplane-t1-1", 1), now)

	assert.Empty(t, e.removed)
	assert.Equal(t, []string{"r1"}, notified)
}
