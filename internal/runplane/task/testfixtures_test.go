package task

import (
	"sync"

	"github.com/armadaproject/runplane/internal/runplane/status"
)

type notification struct {
	watcher WatcherID
	taskId  string
	from    status.TaskStatus
	to      status.TaskStatus
}

type recorder struct {
	mu            sync.Mutex
	notifications []notification
}

func (r *recorder) record(n notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recorder) watcherOrder() []WatcherID {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]WatcherID, 0, len(r.notifications))
	for _, n := range r.notifications {
		result = append(result, n.watcher)
	}
	return result
}

type recordingWatcher struct {
	id       WatcherID
	recorder *recorder
}

func (w *recordingWatcher) Id() WatcherID {
	return w.id
}

func (w *recordingWatcher) OnTaskStatusChange(task View, from status.TaskStatus) {
	w.recorder.record(notification{watcher: w.id, taskId: task.Id(), from: from, to: task.Status()})
}

func newTestTask(id string) *Task {
	return NewTask(Params{Id: id, DeviceClass: GPU, Pool: "default", BackoffLimit: 2})
}
