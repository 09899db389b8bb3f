package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/runplane/internal/runplane/pool"
	"github.com/armadaproject/runplane/internal/runplane/scheduler"
	"github.com/armadaproject/runplane/internal/runplane/status"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

func TestWatcher_CountsTransitions(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	factory := task.NewFactory()
	factory.Register(NewWatcher(m), 0)
	wrapped := factory.Wrap(task.NewTask(task.Params{Id: "t1", DeviceClass: task.GPU, Pool: "default"}))

	wrapped.UpdateStatus(status.TaskReady, nil)
	wrapped.UpdateStatus(status.TaskAssigning, nil)
	wrapped.UpdateStatus(status.TaskCreated, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskTransitions.WithLabelValues("CREATED", "READY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskTransitions.WithLabelValues("READY", "ASSIGNING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.taskTransitions.WithLabelValues("ASSIGNING", "CREATED")))
}

func TestRecordPoll(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordPoll("docker:local", nil)
	m.RecordPoll("docker:local", assert.AnError)
	m.RecordPoll("docker:local", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.polls.WithLabelValues("docker:local", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("docker:local", "failure")))
}

func TestStateCollector(t *testing.T) {
	devices := scheduler.NewDevicePool(map[task.DeviceClass]int{task.GPU: 2})
	require.NoError(t, devices.Acquire(task.GPU, "running"))
	lane := &pool.Pool{Name: "default", Scheduler: scheduler.NewDeviceScheduler(), Devices: devices}
	queued := task.NewTask(task.Params{Id: "queued", DeviceClass: task.GPU, Pool: "default", Status: status.TaskReady})
	lane.Scheduler.Adopt([]task.View{queued}, task.GPU)
	cache := task.NewCache()
	cache.Put(task.NewFactory().Wrap(queued))

	collector := NewStateCollector(pool.NewRegistry(lane), cache)
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(collector))

	assert.Equal(t, 4, testutil.CollectAndCount(collector))
	families, err := registry.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, family := range families {
		values[family.GetName()] = family.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, 1.0, values["runplane_queued_tasks"])
	assert.Equal(t, 1.0, values["runplane_used_devices"])
	assert.Equal(t, 2.0, values["runplane_device_capacity"])
	assert.Equal(t, 1.0, values["runplane_cached_tasks"])
}
