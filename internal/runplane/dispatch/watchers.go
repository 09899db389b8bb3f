package dispatch

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/runplane/internal/runplane/pool"
	"github.com/armadaproject/runplane/internal/runplane/repository"
	"github.com/armadaproject/runplane/internal/runplane/status"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

const (
	PersistenceWatcherId task.WatcherID = "persistence"
	SchedulerWatcherId   task.WatcherID = "scheduler"

	PersistenceOrder = 0
	SchedulerOrder   = 10
)

// PersistenceWatcher writes every applied status change to the repository.
type PersistenceWatcher struct {
	repo repository.TaskRepository
}

func NewPersistenceWatcher(repo repository.TaskRepository) *PersistenceWatcher {
	return &PersistenceWatcher{repo: repo}
}

func (w *PersistenceWatcher) Id() task.WatcherID {
	return PersistenceWatcherId
}

func (w *PersistenceWatcher) OnTaskStatusChange(t task.View, from status.TaskStatus) {
	if err := w.repo.UpdateTaskStatus(context.Background(), []string{t.Id()}, t.Status()); err != nil {
		log.WithField("taskId", t.Id()).Errorf("Failed to persist status change %s -> %s: %v", from, t.Status(), err)
	}
}

// SchedulerWatcher queues a task in its pool's scheduler whenever it becomes READY.
type SchedulerWatcher struct {
	pools    pool.Provider
	notifier Notifier
}

// Notifier is told that there may be work to dispatch.
type Notifier interface {
	Trigger()
}

func NewSchedulerWatcher(pools pool.Provider, notifier Notifier) *SchedulerWatcher {
	return &SchedulerWatcher{pools: pools, notifier: notifier}
}

func (w *SchedulerWatcher) Id() task.WatcherID {
	return SchedulerWatcherId
}

func (w *SchedulerWatcher) OnTaskStatusChange(t task.View, _ status.TaskStatus) {
	if t.Status() != status.TaskReady {
		return
	}
	p, err := w.pools.Get(t.Pool())
	if err != nil {
		log.WithField("taskId", t.Id()).Errorf("Cannot queue task: %v", err)
		return
	}
	if p.Scheduler.Adopt([]task.View{t}, t.DeviceClass()) > 0 && w.notifier != nil {
		w.notifier.Trigger()
	}
}
