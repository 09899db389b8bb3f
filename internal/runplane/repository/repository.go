package repository

import (
	"context"
	"time"

	"github.com/armadaproject/runplane/internal/runplane/status"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

type RunRecord struct {
	Id           string
	TaskId       string
	Pool         string
	UnitName     string
	Generation   int64
	Status       status.RunStatus
	Ip           string
	FailedReason string
	StartTime    *time.Time
	FinishTime   *time.Time
}

type TaskRecord struct {
	Id           string
	Uuid         string
	DeviceClass  task.DeviceClass
	Pool         string
	BackoffLimit int
	Spec         task.Spec
	Status       status.TaskStatus
	RetryNum     int
	FailedReason string
	Ip           string
	StartTime    *time.Time
	FinishTime   *time.Time
	// The run with the highest generation, if the task was ever started.
	CurrentRun *RunRecord
}

// TaskRepository persists tasks and their runs. Fields documented as write-once keep
// the first value written and silently ignore later writes.
type TaskRepository interface {
	CreateTask(ctx context.Context, t task.View) error
	GetTask(ctx context.Context, id string) (*TaskRecord, error)
	// LoadActiveTasks returns every task not in a final status, ordered by id.
	LoadActiveTasks(ctx context.Context) ([]*TaskRecord, error)

	UpdateTaskStatus(ctx context.Context, ids []string, s status.TaskStatus) error
	UpdateRetryNum(ctx context.Context, id string, retryNum int) error
	// Write-once.
	UpdateFailedReason(ctx context.Context, id string, reason string) error
	// Write-once.
	UpdateStartedTimeIfNotSet(ctx context.Context, id string, startTime time.Time) error
	// Write-once.
	UpdateFinishedTimeIfNotSet(ctx context.Context, id string, finishTime time.Time) error
	// Write-once.
	UpdateIp(ctx context.Context, id string, ip string) error

	CreateRun(ctx context.Context, run task.RunView) error
	UpdateRun(ctx context.Context, run task.RunView) error
}

func recordOfRun(run task.RunView) *RunRecord {
	return &RunRecord{
		Id:           run.Id(),
		TaskId:       run.TaskId(),
		Pool:         run.Pool(),
		UnitName:     run.UnitName(),
		Generation:   run.Generation(),
		Status:       run.Status(),
		Ip:           run.Ip(),
		FailedReason: run.FailedReason(),
		StartTime:    run.StartTime(),
		FinishTime:   run.FinishTime(),
	}
}

func recordOfTask(t task.View) *TaskRecord {
	return &TaskRecord{
		Id:           t.Id(),
		Uuid:         t.Uuid(),
		DeviceClass:  t.DeviceClass(),
		Pool:         t.Pool(),
		BackoffLimit: t.BackoffLimit(),
		Spec:         t.Spec(),
		Status:       t.Status(),
		RetryNum:     t.RetryNum(),
		FailedReason: t.FailedReason(),
		Ip:           t.Ip(),
		StartTime:    t.StartTime(),
		FinishTime:   t.FinishTime(),
	}
}

// Restore rebuilds the in memory task of a record, including its current run.
func (r *TaskRecord) Restore() *task.Task {
	restored := task.NewTask(task.Params{
		Id:           r.Id,
		Uuid:         r.Uuid,
		DeviceClass:  r.DeviceClass,
		Pool:         r.Pool,
		BackoffLimit: r.BackoffLimit,
		Spec:         r.Spec,
		Status:       r.Status,
		RetryNum:     r.RetryNum,
	})
	if r.FailedReason != "" {
		restored.SetFailedReasonIfNotSet(r.FailedReason)
	}
	if r.Ip != "" {
		restored.SetIpIfNotSet(r.Ip)
	}
	if r.StartTime != nil {
		restored.SetStartTimeIfNotSet(*r.StartTime)
	}
	if r.FinishTime != nil {
		restored.SetFinishTimeIfNotSet(*r.FinishTime)
	}
	if r.CurrentRun != nil {
		restored.AttachRun(r.CurrentRun.Restore())
	}
	return restored
}

func (r *RunRecord) Restore() *task.Run {
	run := task.NewRun(r.Id, r.TaskId, r.Pool, r.UnitName, r.Generation)
	run.SetStatus(r.Status)
	if r.Ip != "" {
		run.SetIpIfNotSet(r.Ip)
	}
	if r.FailedReason != "" {
		run.SetFailedReasonIfNotSet(r.FailedReason)
	}
	if r.StartTime != nil {
		run.SetStartTimeIfNotSet(*r.StartTime)
	}
	if r.FinishTime != nil {
		run.SetFinishTimeIfNotSet(*r.FinishTime)
	}
	return run
}
