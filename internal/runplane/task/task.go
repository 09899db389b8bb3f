package task

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/armadaproject/runplane/internal/common/util"
	"github.com/armadaproject/runplane/internal/runplane/status"
)

// Spec describes what a run of the task executes.
type Spec struct {
	Image     string
	Command   []string
	Env       map[string]string
	Resources map[string]resource.Quantity
}

// View exposes a task without any way to mutate it.
type View interface {
	Id() string
	Uuid() string
	Status() status.TaskStatus
	RetryNum() int
	BackoffLimit() int
	DeviceClass() DeviceClass
	Pool() string
	Spec() Spec
	CurrentRun() RunView
	Runs() []RunView
	StartTime() *time.Time
	FinishTime() *time.Time
	FailedReason() string
	Ip() string
}

// Transferable is anything whose status can be moved along the status machine. WatchableTask
// wraps a Transferable, so wrappers can be nested.
type Transferable interface {
	View
	// Transfer moves the task to the given status if the status machine allows it. from is the
	// status observed when the decision was taken.
	Transfer(to status.TaskStatus, suppressed Suppression) (from status.TaskStatus, applied bool)
	// Unwrap returns the innermost concrete task.
	Unwrap() *Task
}

type Params struct {
	Id           string
	Uuid         string
	DeviceClass  DeviceClass
	Pool         string
	BackoffLimit int
	Spec         Spec
	// Status defaults to CREATED. Set when restoring persisted tasks.
	Status   status.TaskStatus
	RetryNum int
}

// Task is one schedulable unit of work derived from a job step.
type Task struct {
	mu           sync.RWMutex
	id           string
	uuid         string
	deviceClass  DeviceClass
	pool         string
	backoffLimit int
	spec         Spec
	status       status.TaskStatus
	retryNum     int
	currentRun   *Run
	// Superseded runs, oldest first.
	history      []*Run
	startTime    *time.Time
	finishTime   *time.Time
	failedReason string
	ip           string
}

func NewTask(params Params) *Task {
	taskUuid := params.Uuid
	if taskUuid == "" {
		taskUuid = util.NewTaskUuid()
	}
	taskStatus := params.Status
	if taskStatus == "" {
		taskStatus = status.TaskCreated
	}
	return &Task{
		id:           params.Id,
		uuid:         taskUuid,
		deviceClass:  params.DeviceClass,
		pool:         params.Pool,
		backoffLimit: params.BackoffLimit,
		spec:         params.Spec,
		status:       taskStatus,
		retryNum:     params.RetryNum,
	}
}

// ResolveBackoffLimit prefers a step level override over the system default.
func ResolveBackoffLimit(override *int, systemDefault int) int {
	if override != nil && *override >= 0 {
		return *override
	}
	return systemDefault
}

func (t *Task) String() string {
	return fmt.Sprintf("task %s (%s)", t.id, t.Status())
}

func (t *Task) Id() string {
	return t.id
}

func (t *Task) Uuid() string {
	return t.uuid
}

func (t *Task) DeviceClass() DeviceClass {
	return t.deviceClass
}

func (t *Task) Pool() string {
	return t.pool
}

func (t *Task) BackoffLimit() int {
	return t.backoffLimit
}

func (t *Task) Spec() Spec {
	return t.spec
}

func (t *Task) Status() status.TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Task) Transfer(to status.TaskStatus, _ Suppression) (status.TaskStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.status
	if from == to {
		return from, false
	}
	if !status.CouldTransfer(from, to) {
		log.WithField("taskId", t.id).Warnf("ignoring illegal status transition %s -> %s", from, to)
		return from, false
	}
	t.status = to
	return from, true
}

func (t *Task) Unwrap() *Task {
	return t
}

func (t *Task) RetryNum() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retryNum
}

// IncrementRetryNum bumps the retry counter unless it already reached the backoff limit.
func (t *Task) IncrementRetryNum() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.retryNum >= t.backoffLimit {
		return t.retryNum, false
	}
	t.retryNum++
	return t.retryNum, true
}

func (t *Task) CurrentRun() RunView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.currentRun == nil {
		return nil
	}
	return t.currentRun
}

// MutableCurrentRun is reserved for the reconciliation chain.
func (t *Task) MutableCurrentRun() *Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentRun
}

// AttachRun makes run the current run, moving the previous one into history.
func (t *Task) AttachRun(run *Run) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.currentRun != nil {
		t.history = append(t.history, t.currentRun)
	}
	t.currentRun = run
}

// NextGeneration is the generation the next run of this task should carry.
func (t *Task) NextGeneration() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.currentRun == nil {
		return 1
	}
	return t.currentRun.Generation() + 1
}

func (t *Task) Runs() []RunView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	runs := make([]RunView, 0, len(t.history)+1)
	for _, run := range t.history {
		runs = append(runs, run)
	}
	if t.currentRun != nil {
		runs = append(runs, t.currentRun)
	}
	return runs
}

func (t *Task) StartTime() *time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyTime(t.startTime)
}

func (t *Task) SetStartTimeIfNotSet(value time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return setTimeIfNotSet(&t.startTime, value)
}

func (t *Task) FinishTime() *time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyTime(t.finishTime)
}

func (t *Task) SetFinishTimeIfNotSet(value time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return setTimeIfNotSet(&t.finishTime, value)
}

func (t *Task) FailedReason() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failedReason
}

func (t *Task) SetFailedReasonIfNotSet(reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return setStringIfNotSet(&t.failedReason, reason)
}

func (t *Task) Ip() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ip
}

func (t *Task) SetIpIfNotSet(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return setStringIfNotSet(&t.ip, ip)
}
