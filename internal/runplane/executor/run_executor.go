package executor

import (
	"context"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/runplane/internal/common/util"
	"github.com/armadaproject/runplane/internal/runplane/scheduler"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

// BackendRunExecutor runs the tasks of one resource pool on a Backend.
// Start is the only place a device slot is taken and a run is created.
type BackendRunExecutor struct {
	pool    string
	backend Backend
	devices *scheduler.DevicePool
	runs    RunRecorder
}

func NewBackendRunExecutor(pool string, backend Backend, devices *scheduler.DevicePool, runs RunRecorder) *BackendRunExecutor {
	return &BackendRunExecutor{
		pool:    pool,
		backend: backend,
		devices: devices,
		runs:    runs,
	}
}

func (e *BackendRunExecutor) Kind() Kind {
	return e.backend.Kind()
}

func (e *BackendRunExecutor) ClientKey() string {
	return e.backend.ClientKey()
}

func (e *BackendRunExecutor) Pool() string {
	return e.pool
}

func (e *BackendRunExecutor) Start(ctx context.Context, t *task.Task, spec task.Spec) (*RunHandle, error) {
	if err := e.devices.Acquire(t.DeviceClass(), t.Id()); err != nil {
		return nil, &ErrStartFailure{TaskId: t.Id(), Pool: e.pool, Cause: err}
	}

	generation := t.NextGeneration()
	runId := util.NewRunId()
	unitName := UnitName(t.Id(), generation)
	unitSpec := UnitSpec{
		Name:        unitName,
		Labels:      UnitLabels(t, runId, generation, e.pool),
		Image:       spec.Image,
		Command:     spec.Command,
		Env:         spec.Env,
		Resources:   spec.Resources,
		DeviceClass: t.DeviceClass(),
	}

	if err := e.backend.CreateUnit(ctx, unitSpec); err != nil {
		e.devices.Release(t.Id())
		return nil, &ErrStartFailure{TaskId: t.Id(), Pool: e.pool, Cause: err}
	}

	run := task.NewRun(runId, t.Id(), e.pool, unitName, generation)
	if err := e.runs.CreateRun(ctx, run); err != nil {
		if deleteErr := e.backend.DeleteUnit(ctx, unitName); deleteErr != nil && !IsUnitNotFound(deleteErr) {
			log.Errorf("Failed to delete unit %s after its run could not be recorded: %v", unitName, deleteErr)
		}
		e.devices.Release(t.Id())
		return nil, &ErrStartFailure{TaskId: t.Id(), Pool: e.pool, Cause: errors.WithMessage(err, "recording run")}
	}
	t.AttachRun(run)

	log.Infof("Started run %s of task %s as %s in pool %s", runId, t.Id(), unitName, e.pool)
	return &RunHandle{Run: run}, nil
}

func (e *BackendRunExecutor) ListActive(ctx context.Context, pools ...string) ([]BackendUnit, error) {
	if len(pools) == 0 {
		pools = []string{e.pool}
	}
	units, err := e.backend.ListUnits(ctx, pools)
	if err != nil {
		return nil, errors.WithMessagef(err, "listing %s units", e.backend.Kind())
	}
	return units, nil
}

func (e *BackendRunExecutor) Remove(ctx context.Context, run task.RunView) error {
	err := e.backend.DeleteUnit(ctx, run.UnitName())
	if err != nil && !IsUnitNotFound(err) {
		return errors.WithMessagef(err, "removing unit %s of run %s", run.UnitName(), run.Id())
	}
	return nil
}

func (e *BackendRunExecutor) Logs(ctx context.Context, run task.RunView) (io.ReadCloser, error) {
	return e.backend.UnitLogs(ctx, run.UnitName())
}
