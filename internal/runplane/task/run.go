package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/armadaproject/runplane/internal/runplane/status"
)

// RunView is the read-only face of a Run.
type RunView interface {
	Id() string
	TaskId() string
	Pool() string
	UnitName() string
	Generation() int64
	Status() status.RunStatus
	Ip() string
	StartTime() *time.Time
	FinishTime() *time.Time
	FailedReason() string
}

// Run is one execution attempt of a Task on a backend. Only the current run of a task is
// ever mutated, superseded runs are kept as history.
type Run struct {
	mu sync.RWMutex
	// Unique identifier for the run.
	id string
	// Id of the task this run belongs to.
	taskId string
	// Resource pool whose backend runs the unit.
	pool string
	// Name of the backend unit (container or pod).
	unitName string
	// Distinguishes successive units created for the same task.
	generation int64
	status     status.RunStatus
	ip         string
	startTime  *time.Time
	finishTime *time.Time
	// Native status explaining a failure.
	failedReason string
}

func NewRun(id string, taskId string, pool string, unitName string, generation int64) *Run {
	return &Run{
		id:         id,
		taskId:     taskId,
		pool:       pool,
		unitName:   unitName,
		generation: generation,
		status:     status.RunPending,
	}
}

func (r *Run) String() string {
	return fmt.Sprintf("run %s (task %s, generation %d, unit %s)", r.id, r.taskId, r.generation, r.unitName)
}

func (r *Run) Id() string {
	return r.id
}

func (r *Run) TaskId() string {
	return r.taskId
}

func (r *Run) Pool() string {
	return r.pool
}

func (r *Run) UnitName() string {
	return r.unitName
}

func (r *Run) Generation() int64 {
	return r.generation
}

func (r *Run) Status() status.RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// SetStatus overwrites the cached status and returns the previous one.
func (r *Run) SetStatus(s status.RunStatus) status.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.status
	r.status = s
	return previous
}

func (r *Run) Ip() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ip
}

func (r *Run) SetIpIfNotSet(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return setStringIfNotSet(&r.ip, ip)
}

func (r *Run) StartTime() *time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyTime(r.startTime)
}

func (r *Run) SetStartTimeIfNotSet(t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return setTimeIfNotSet(&r.startTime, t)
}

func (r *Run) FinishTime() *time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyTime(r.finishTime)
}

func (r *Run) SetFinishTimeIfNotSet(t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return setTimeIfNotSet(&r.finishTime, t)
}

func (r *Run) FailedReason() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failedReason
}

func (r *Run) SetFailedReasonIfNotSet(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return setStringIfNotSet(&r.failedReason, reason)
}

func setStringIfNotSet(field *string, value string) bool {
	if *field != "" || value == "" {
		return false
	}
	*field = value
	return true
}

func setTimeIfNotSet(field **time.Time, value time.Time) bool {
	if *field != nil || value.IsZero() {
		return false
	}
	*field = &value
	return true
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
