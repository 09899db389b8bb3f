package scheduler

import (
	"container/list"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/runplane/internal/runplane/task"
)

type queuedTask struct {
	task    task.View
	class   task.DeviceClass
	element *list.Element
}

type Stats struct {
	Adopted    int
	Dispatched int
	Withdrawn  int
	Queued     int
}

// DeviceScheduler hands out ready tasks, FIFO per device class, against the idle device count
// of each class. Every adopted task is at any time either queued, dispatched or withdrawn.
type DeviceScheduler struct {
	mu         sync.Mutex
	queues     map[task.DeviceClass]*list.List
	index      map[string]*queuedTask
	adopted    int
	dispatched int
	withdrawn  int
}

func NewDeviceScheduler() *DeviceScheduler {
	return &DeviceScheduler{
		queues: map[task.DeviceClass]*list.List{},
		index:  map[string]*queuedTask{},
	}
}

// Adopt appends tasks to the queue of the given class. Tasks already queued are left where
// they are. Returns the number of tasks actually adopted.
func (s *DeviceScheduler) Adopt(tasks []task.View, class task.DeviceClass) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue, ok := s.queues[class]
	if !ok {
		queue = list.New()
		s.queues[class] = queue
	}

	adopted := 0
	for _, t := range tasks {
		if existing, present := s.index[t.Id()]; present {
			if existing.class != class {
				log.WithField("taskId", t.Id()).Warnf("task already queued for %s, not adopting it for %s", existing.class, class)
			}
			continue
		}
		entry := &queuedTask{task: t, class: class}
		entry.element = queue.PushBack(entry)
		s.index[t.Id()] = entry
		adopted++
	}
	s.adopted += adopted
	return adopted
}

// Schedule pops up to idle[class] tasks from each class queue, oldest first. Classes are
// independent of each other and are visited in name order.
func (s *DeviceScheduler) Schedule(idle map[task.DeviceClass]int) []task.View {
	s.mu.Lock()
	defer s.mu.Unlock()

	classes := maps.Keys(idle)
	slices.Sort(classes)

	var dispatched []task.View
	for _, class := range classes {
		queue, ok := s.queues[class]
		if !ok {
			continue
		}
		for count := idle[class]; count > 0 && queue.Len() > 0; count-- {
			entry := queue.Remove(queue.Front()).(*queuedTask)
			delete(s.index, entry.task.Id())
			dispatched = append(dispatched, entry.task)
		}
	}
	s.dispatched += len(dispatched)
	return dispatched
}

// Withdraw removes the given tasks if they have not been dispatched yet and returns them.
func (s *DeviceScheduler) Withdraw(taskIds []string) []task.View {
	s.mu.Lock()
	defer s.mu.Unlock()

	var withdrawn []task.View
	for _, taskId := range taskIds {
		entry, ok := s.index[taskId]
		if !ok {
			continue
		}
		s.queues[entry.class].Remove(entry.element)
		delete(s.index, taskId)
		withdrawn = append(withdrawn, entry.task)
	}
	s.withdrawn += len(withdrawn)
	return withdrawn
}

func (s *DeviceScheduler) IsQueued(taskId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[taskId]
	return ok
}

// Queued returns the ids waiting in each class, in dispatch order.
func (s *DeviceScheduler) Queued() map[task.DeviceClass][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[task.DeviceClass][]string, len(s.queues))
	for class, queue := range s.queues {
		ids := make([]string, 0, queue.Len())
		for e := queue.Front(); e != nil; e = e.Next() {
			ids = append(ids, e.Value.(*queuedTask).task.Id())
		}
		result[class] = ids
	}
	return result
}

func (s *DeviceScheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Adopted:    s.adopted,
		Dispatched: s.dispatched,
		Withdrawn:  s.withdrawn,
		Queued:     len(s.index),
	}
}
