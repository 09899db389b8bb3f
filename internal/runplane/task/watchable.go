package task

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/armadaproject/runplane/internal/runplane/status"
)

type WatcherID string

// Watcher is told about every status change applied through a WatchableTask.
type Watcher interface {
	Id() WatcherID
	OnTaskStatusChange(task View, from status.TaskStatus)
}

// Suppression names watchers that must not be notified for one logical operation. It is
// passed explicitly, a nil Suppression suppresses nothing.
type Suppression map[WatcherID]struct{}

func Suppress(ids ...WatcherID) Suppression {
	suppression := make(Suppression, len(ids))
	for _, id := range ids {
		suppression[id] = struct{}{}
	}
	return suppression
}

func (s Suppression) Contains(id WatcherID) bool {
	_, ok := s[id]
	return ok
}

type registeredWatcher struct {
	watcher Watcher
	ordered bool
	order   int
	seq     int
}

// WatchableTask wraps a task so that status changes go through the status machine and are
// fanned out to watchers in priority order.
type WatchableTask struct {
	Transferable
	watchers []Watcher
}

// UpdateStatus is the mutation entry point for the rest of the system. It never fails,
// an illegal or redundant transition simply returns false.
func (w *WatchableTask) UpdateStatus(to status.TaskStatus, suppressed Suppression) bool {
	_, applied := w.Transfer(to, suppressed)
	return applied
}

func (w *WatchableTask) Transfer(to status.TaskStatus, suppressed Suppression) (status.TaskStatus, bool) {
	from, applied := w.Transferable.Transfer(to, suppressed)
	if !applied {
		return from, false
	}
	for _, watcher := range w.watchers {
		if suppressed.Contains(watcher.Id()) {
			continue
		}
		watcher.OnTaskStatusChange(w, from)
	}
	return from, true
}

// Task gives access to the concrete task for non-status mutations.
func (w *WatchableTask) Task() *Task {
	return w.Unwrap()
}

// SameTask compares tasks by the object they ultimately wrap.
func SameTask(a, b Transferable) bool {
	return a.Unwrap() == b.Unwrap()
}

// Factory wraps tasks with the watchers registered on it.
type Factory struct {
	mu       sync.RWMutex
	watchers []registeredWatcher
	sorted   []Watcher
}

func NewFactory() *Factory {
	return &Factory{}
}

// Register adds a watcher notified in ascending order value.
func (f *Factory) Register(watcher Watcher, order int) {
	f.add(registeredWatcher{watcher: watcher, ordered: true, order: order})
}

// RegisterUnordered adds a watcher notified after all ordered ones, in registration order.
func (f *Factory) RegisterUnordered(watcher Watcher) {
	f.add(registeredWatcher{watcher: watcher})
}

func (f *Factory) add(w registeredWatcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.seq = len(f.watchers)
	f.watchers = append(f.watchers, w)

	ordered := make([]registeredWatcher, len(f.watchers))
	copy(ordered, f.watchers)
	slices.SortStableFunc(ordered, func(a, b registeredWatcher) bool {
		if a.ordered != b.ordered {
			return a.ordered
		}
		if a.ordered && a.order != b.order {
			return a.order < b.order
		}
		return a.seq < b.seq
	})
	f.sorted = make([]Watcher, 0, len(ordered))
	for _, rw := range ordered {
		f.sorted = append(f.sorted, rw.watcher)
	}
}

// Wrap returns a WatchableTask notifying the watchers registered so far.
func (f *Factory) Wrap(task Transferable) *WatchableTask {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &WatchableTask{
		Transferable: task,
		watchers:     f.sorted,
	}
}
