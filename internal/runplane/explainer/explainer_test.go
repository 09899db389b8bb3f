package explainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/runplane/internal/runplane/executor"
	"github.com/armadaproject/runplane/internal/runplane/status"
)

func exitCode(code int) *int {
	return &code
}

func TestContainerExplainer(t *testing.T) {
	tests := map[string]struct {
		unit         executor.BackendUnit
		runStatus    status.RunStatus
		taskStatus   status.TaskStatus
		failedReason string
	}{
		"created": {
			unit:       executor.BackendUnit{NativeStatus: "created"},
			runStatus:  status.RunPending,
			taskStatus: status.TaskPreparing,
		},
		"running": {
			unit:       executor.BackendUnit{NativeStatus: "running"},
			runStatus:  status.RunRunning,
			taskStatus: status.TaskRunning,
		},
		"paused": {
			unit:       executor.BackendUnit{NativeStatus: "paused"},
			runStatus:  status.RunRunning,
			taskStatus: status.TaskRunning,
		},
		"restarting": {
			unit:       executor.BackendUnit{NativeStatus: "restarting"},
			runStatus:  status.RunRunning,
			taskStatus: status.TaskRunning,
		},
		"exited cleanly": {
			unit:       executor.BackendUnit{NativeStatus: "exited", ExitCode: exitCode(0)},
			runStatus:  status.RunFinished,
			taskStatus: status.TaskSuccess,
		},
		"exited with error": {
			unit:         executor.BackendUnit{NativeStatus: "exited", ExitCode: exitCode(2)},
			runStatus:    status.RunFailed,
			taskStatus:   status.TaskFail,
			failedReason: "exited with exit code 2",
		},
		"exited without known exit code": {
			unit:       executor.BackendUnit{NativeStatus: "exited"},
			runStatus:  status.RunUnknown,
			taskStatus: status.TaskUnknown,
		},
		"dead": {
			unit:         executor.BackendUnit{NativeStatus: "dead", Message: "oci runtime error"},
			runStatus:    status.RunFailed,
			taskStatus:   status.TaskFail,
			failedReason: "oci runtime error",
		},
		"removing": {
			unit:       executor.BackendUnit{NativeStatus: "removing"},
			runStatus:  status.RunUnknown,
			taskStatus: status.TaskUnknown,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			explanation := ContainerExplainer{}.Classify(tc.unit)
			assert.Equal(t, tc.runStatus, explanation.RunStatus)
			assert.Equal(t, tc.taskStatus, explanation.TaskStatus)
			assert.Equal(t, tc.failedReason, explanation.FailedReason)
		})
	}
}

func TestPodExplainer(t *testing.T) {
	tests := map[string]struct {
		unit       executor.BackendUnit
		runStatus  status.RunStatus
		taskStatus status.TaskStatus
	}{
		"pending":               {unit: executor.BackendUnit{NativeStatus: "Pending"}, runStatus: status.RunPending, taskStatus: status.TaskPreparing},
		"pending unrecoverable": {unit: executor.BackendUnit{NativeStatus: "Pending", Message: "InvalidImageName"}, runStatus: status.RunFailed, taskStatus: status.TaskFail},
		"running":               {unit: executor.BackendUnit{NativeStatus: "Running"}, runStatus: status.RunRunning, taskStatus: status.TaskRunning},
		"succeeded":             {unit: executor.BackendUnit{NativeStatus: "Succeeded"}, runStatus: status.RunFinished, taskStatus: status.TaskSuccess},
		"failed":                {unit: executor.BackendUnit{NativeStatus: "Failed", ExitCode: exitCode(1)}, runStatus: status.RunFailed, taskStatus: status.TaskFail},
		"unknown":               {unit: executor.BackendUnit{NativeStatus: "Unknown"}, runStatus: status.RunUnknown, taskStatus: status.TaskUnknown},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			explanation := PodExplainer{}.Classify(tc.unit)
			assert.Equal(t, tc.runStatus, explanation.RunStatus)
			assert.Equal(t, tc.taskStatus, explanation.TaskStatus)
		})
	}
}

func TestForKind(t *testing.T) {
	docker, err := ForKind(executor.Docker)
	require.NoError(t, err)
	assert.IsType(t, ContainerExplainer{}, docker)

	pods, err := ForKind(executor.Kubernetes)
	require.NoError(t, err)
	assert.IsType(t, PodExplainer{}, pods)

	_, err = ForKind("slurm")
	assert.Error(t, err)
}
