package task

import (
	"sync"

	"golang.org/x/exp/slices"
)

// Cache holds the hot, in-memory tasks keyed by task id. It is filled explicitly at startup
// and on submission, and pruned explicitly once a terminal task has been garbage collected.
type Cache struct {
	mu    sync.RWMutex
	tasks map[string]*WatchableTask
}

func NewCache() *Cache {
	return &Cache{tasks: map[string]*WatchableTask{}}
}

func (c *Cache) Put(task *WatchableTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[task.Id()] = task
}

func (c *Cache) Get(taskId string) (*WatchableTask, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	task, ok := c.tasks[taskId]
	return task, ok
}

func (c *Cache) Remove(taskId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, taskId)
}

// All returns the cached tasks sorted by id.
func (c *Cache) All() []*WatchableTask {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]*WatchableTask, 0, len(c.tasks))
	for _, task := range c.tasks {
		result = append(result, task)
	}
	slices.SortFunc(result, func(a, b *WatchableTask) bool {
		return a.Id() < b.Id()
	})
	return result
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tasks)
}
