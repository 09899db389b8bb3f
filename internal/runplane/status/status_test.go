package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCouldTransfer_TableExamples(t *testing.T) {
	assert.True(t, CouldTransfer(TaskCreated, TaskPreparing))
	assert.True(t, CouldTransfer(TaskPreparing, TaskRunning))
	assert.True(t, CouldTransfer(TaskRunning, TaskSuccess))
	assert.True(t, CouldTransfer(TaskRunning, TaskRetrying))
	assert.True(t, CouldTransfer(TaskRetrying, TaskReady))
	assert.True(t, CouldTransfer(TaskAssigning, TaskReady))
	assert.True(t, CouldTransfer(TaskAssigning, TaskRetrying))
	assert.True(t, CouldTransfer(TaskToCancel, TaskCancelling))
	assert.True(t, CouldTransfer(TaskCancelling, TaskCanceled))

	assert.False(t, CouldTransfer(TaskRunning, TaskPreparing))
	assert.False(t, CouldTransfer(TaskRunning, TaskReady))
	assert.False(t, CouldTransfer(TaskToCancel, TaskRetrying))
	assert.False(t, CouldTransfer(TaskReady, TaskRetrying))
}

func TestCouldTransfer_FinalStatusesHaveNoSuccessors(t *testing.T) {
	for _, final := range []TaskStatus{TaskSuccess, TaskFail, TaskCanceled} {
		assert.True(t, IsFinal(final))
		for _, to := range AllTaskStatuses() {
			assert.False(t, CouldTransfer(final, to), "%s -> %s", final, to)
		}
	}
}

func TestIsFinal_NonFinal(t *testing.T) {
	for _, s := range []TaskStatus{TaskCreated, TaskReady, TaskRunning, TaskRetrying, TaskToCancel, TaskCancelling, TaskUnknown} {
		assert.False(t, IsFinal(s), s)
	}
}

func TestCouldTransfer_UnknownIsWildcardSourceOnly(t *testing.T) {
	for _, to := range AllTaskStatuses() {
		if to == TaskUnknown {
			continue
		}
		assert.True(t, CouldTransfer(TaskUnknown, to))
	}
	for _, from := range AllTaskStatuses() {
		assert.False(t, CouldTransfer(from, TaskUnknown))
	}
}

func TestRunTransitions(t *testing.T) {
	assert.True(t, CouldTransferRun(RunPending, RunRunning))
	assert.True(t, CouldTransferRun(RunRunning, RunFailed))
	assert.False(t, CouldTransferRun(RunFinished, RunRunning))
	assert.False(t, CouldTransferRun(RunRunning, RunUnknown))
	assert.True(t, IsFinalRun(RunFinished))
	assert.True(t, IsFinalRun(RunFailed))
	assert.True(t, IsFinalRun(RunCanceled))
	assert.False(t, IsFinalRun(RunRunning))
	assert.False(t, IsFinalRun(RunUnknown))
}

func TestTaskStatusForRun(t *testing.T) {
	tests := map[RunStatus]TaskStatus{
		RunPending:  TaskPreparing,
		RunRunning:  TaskRunning,
		RunFinished: TaskSuccess,
		RunFailed:   TaskFail,
		RunCanceled: TaskCanceled,
	}
	for run, expected := range tests {
		actual, ok := TaskStatusForRun(run)
		assert.True(t, ok)
		assert.Equal(t, expected, actual)
	}
	_, ok := TaskStatusForRun(RunUnknown)
	assert.False(t, ok)
}
