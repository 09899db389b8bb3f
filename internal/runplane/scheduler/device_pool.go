package scheduler

import (
	"fmt"
	"sync"

	"github.com/armadaproject/runplane/internal/runplane/task"
)

type ErrNoCapacity struct {
	Class task.DeviceClass
}

func (e *ErrNoCapacity) Error() string {
	return fmt.Sprintf("no idle %s device", e.Class)
}

type ErrSlotHeld struct {
	TaskId string
	Class  task.DeviceClass
}

func (e *ErrSlotHeld) Error() string {
	return fmt.Sprintf("task %s already holds a %s device", e.TaskId, e.Class)
}

// DevicePool tracks device slots per class. A slot is idle or held by exactly one task and a
// task never holds more than one slot.
type DevicePool struct {
	mu       sync.Mutex
	capacity map[task.DeviceClass]int
	used     map[task.DeviceClass]int
	holders  map[string]task.DeviceClass
}

func NewDevicePool(capacity map[task.DeviceClass]int) *DevicePool {
	c := make(map[task.DeviceClass]int, len(capacity))
	for class, slots := range capacity {
		c[class] = slots
	}
	return &DevicePool{
		capacity: c,
		used:     map[task.DeviceClass]int{},
		holders:  map[string]task.DeviceClass{},
	}
}

func (p *DevicePool) Acquire(class task.DeviceClass, taskId string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if held, ok := p.holders[taskId]; ok {
		return &ErrSlotHeld{TaskId: taskId, Class: held}
	}
	if p.used[class] >= p.capacity[class] {
		return &ErrNoCapacity{Class: class}
	}
	p.used[class]++
	p.holders[taskId] = class
	return nil
}

// Release frees the slot held by the task. Releasing a task holding nothing is a no-op.
func (p *DevicePool) Release(taskId string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	class, ok := p.holders[taskId]
	if !ok {
		return false
	}
	delete(p.holders, taskId)
	p.used[class]--
	return true
}

func (p *DevicePool) Holds(taskId string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.holders[taskId]
	return ok
}

func (p *DevicePool) IdleCounts() map[task.DeviceClass]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	idle := make(map[task.DeviceClass]int, len(p.capacity))
	for class, slots := range p.capacity {
		idle[class] = slots - p.used[class]
	}
	return idle
}

func (p *DevicePool) Used(class task.DeviceClass) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used[class]
}

func (p *DevicePool) Capacity(class task.DeviceClass) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity[class]
}
