package reconcile

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/runplane/internal/runplane/collaborator"
	"github.com/armadaproject/runplane/internal/runplane/status"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

const (
	StatusPriority  = 0
	DevicePriority  = 100
	DatasetPriority = 200
	GcPriority      = 300
)

type SlotReleaser interface {
	Release(pool string, taskId string) bool
}

// CapacityNotifier is told whenever a device slot becomes idle.
type CapacityNotifier interface {
	Trigger()
}

// DeviceListener gives back the device slot of a run once it terminated. Retried runs have
// already released theirs in the status listener.
type DeviceListener struct {
	slots    SlotReleaser
	notifier CapacityNotifier
}

func NewDeviceListener(slots SlotReleaser, notifier CapacityNotifier) *DeviceListener {
	return &DeviceListener{slots: slots, notifier: notifier}
}

func (l *DeviceListener) Name() string {
	return "device"
}

func (l *DeviceListener) OnReportedRun(_ context.Context, outcome *Outcome) {
	// A retried task may already hold a slot for its next run.
	if !outcome.Terminated() || outcome.Retried {
		return
	}
	if l.slots.Release(outcome.Report.Pool, outcome.Report.TaskId) && l.notifier != nil {
		l.notifier.Trigger()
	}
}

// DatasetListener hands data consumed by a failed run back to the data loader.
type DatasetListener struct {
	loader collaborator.DataLoader
}

func NewDatasetListener(loader collaborator.DataLoader) *DatasetListener {
	return &DatasetListener{loader: loader}
}

func (l *DatasetListener) Name() string {
	return "dataset"
}

func (l *DatasetListener) OnReportedRun(ctx context.Context, outcome *Outcome) {
	if !outcome.RunChanged || outcome.Report.Status != status.RunFailed {
		return
	}
	if err := l.loader.ResetUnProcessed(ctx, outcome.Report.TaskId); err != nil {
		log.WithField("taskId", outcome.Report.TaskId).Errorf("Failed to reset unprocessed data: %v", err)
	}
}

type Collector interface {
	Submit(ctx context.Context, run task.RunView, finishedAt time.Time) bool
}

// GcListener saves the logs of a terminated run and queues its unit for removal.
type GcListener struct {
	logs      collaborator.LogCapture
	collector Collector
	clock     clock.Clock
}

func NewGcListener(logs collaborator.LogCapture, collector Collector, clock clock.Clock) *GcListener {
	return &GcListener{logs: logs, collector: collector, clock: clock}
}

func (l *GcListener) Name() string {
	return "gc"
}

func (l *GcListener) OnReportedRun(ctx context.Context, outcome *Outcome) {
	if !outcome.Terminated() {
		return
	}
	run := outcome.Run
	if err := l.logs.SaveLog(ctx, run); err != nil {
		log.WithField("taskId", run.TaskId()).Warnf("Failed to save logs of run %s: %v", run.Id(), err)
	}
	finishedAt := l.clock.Now()
	if finishTime := run.FinishTime(); finishTime != nil {
		finishedAt = *finishTime
	}
	l.collector.Submit(ctx, run, finishedAt)
}
