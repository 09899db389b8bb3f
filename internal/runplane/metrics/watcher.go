package metrics

import (
	"github.com/armadaproject/runplane/internal/runplane/status"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

const WatcherId task.WatcherID = "metrics"

// Watcher counts task status transitions.
type Watcher struct {
	metrics *Metrics
}

func NewWatcher(metrics *Metrics) *Watcher {
	return &Watcher{metrics: metrics}
}

func (w *Watcher) Id() task.WatcherID {
	return WatcherId
}

func (w *Watcher) OnTaskStatusChange(t task.View, from status.TaskStatus) {
	w.metrics.RecordTransition(from, t.Status())
}
