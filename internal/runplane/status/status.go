// Package status holds the canonical task and run statuses and the table of legal
// transitions between them. Every status mutation in runplane is checked against it.
package status

type TaskStatus string

const (
	TaskCreated    TaskStatus = "CREATED"
	TaskReady      TaskStatus = "READY"
	TaskAssigning  TaskStatus = "ASSIGNING"
	TaskPaused     TaskStatus = "PAUSED"
	TaskPreparing  TaskStatus = "PREPARING"
	TaskRunning    TaskStatus = "RUNNING"
	TaskRetrying   TaskStatus = "RETRYING"
	TaskSuccess    TaskStatus = "SUCCESS"
	TaskFail       TaskStatus = "FAIL"
	TaskToCancel   TaskStatus = "TO_CANCEL"
	TaskCancelling TaskStatus = "CANCELLING"
	TaskCanceled   TaskStatus = "CANCELED"
	// TaskUnknown is only used on recovery paths. It may move anywhere but nothing moves into it.
	TaskUnknown TaskStatus = "UNKNOWN"
)

type RunStatus string

const (
	RunPending  RunStatus = "PENDING"
	RunRunning  RunStatus = "RUNNING"
	RunFinished RunStatus = "FINISHED"
	RunFailed   RunStatus = "FAILED"
	RunCanceled RunStatus = "CANCELED"
	RunUnknown  RunStatus = "UNKNOWN"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskCreated: {TaskReady, TaskAssigning, TaskPaused, TaskPreparing, TaskRunning, TaskSuccess, TaskFail, TaskToCancel, TaskCanceled},
	TaskReady:   {TaskAssigning, TaskPaused, TaskPreparing, TaskRunning, TaskSuccess, TaskFail, TaskToCancel, TaskCanceled},
	TaskPaused:  {TaskReady, TaskRunning, TaskToCancel, TaskCanceled},
	// A first report can already be terminal when the unit ran faster than one poll interval.
	// READY undoes a claim whose start failed.
	TaskAssigning:  {TaskReady, TaskPreparing, TaskRunning, TaskRetrying, TaskSuccess, TaskFail, TaskToCancel},
	TaskPreparing:  {TaskRunning, TaskRetrying, TaskSuccess, TaskFail, TaskToCancel},
	TaskRunning:    {TaskRetrying, TaskSuccess, TaskFail, TaskToCancel},
	TaskRetrying:   {TaskReady, TaskFail, TaskToCancel},
	TaskToCancel:   {TaskCancelling, TaskCanceled, TaskFail},
	TaskCancelling: {TaskCancelling, TaskCanceled, TaskFail},
	TaskSuccess:    {},
	TaskFail:       {},
	TaskCanceled:   {},
}

var runTransitions = map[RunStatus][]RunStatus{
	RunPending:  {RunRunning, RunFinished, RunFailed, RunCanceled},
	RunRunning:  {RunFinished, RunFailed, RunCanceled},
	RunFinished: {},
	RunFailed:   {},
	RunCanceled: {},
}

var (
	taskTransitionSet = toSet(taskTransitions)
	runTransitionSet  = toSet(runTransitions)
)

func toSet[S comparable](transitions map[S][]S) map[S]map[S]bool {
	result := make(map[S]map[S]bool, len(transitions))
	for from, successors := range transitions {
		result[from] = make(map[S]bool, len(successors))
		for _, to := range successors {
			result[from][to] = true
		}
	}
	return result
}

// CouldTransfer reports whether a task may move from one status to another.
func CouldTransfer(from, to TaskStatus) bool {
	if to == TaskUnknown {
		return false
	}
	if from == TaskUnknown {
		return true
	}
	return taskTransitionSet[from][to]
}

// IsFinal is true for statuses without outgoing transitions.
func IsFinal(s TaskStatus) bool {
	successors, known := taskTransitions[s]
	return known && len(successors) == 0
}

func CouldTransferRun(from, to RunStatus) bool {
	if to == RunUnknown {
		return false
	}
	if from == RunUnknown {
		return true
	}
	return runTransitionSet[from][to]
}

func IsFinalRun(s RunStatus) bool {
	successors, known := runTransitions[s]
	return known && len(successors) == 0
}

// IsCancelling is true while a user requested cancellation is in progress.
func IsCancelling(s TaskStatus) bool {
	return s == TaskToCancel || s == TaskCancelling
}

// TaskStatusForRun translates a run status into the task status it implies once retries
// have been ruled out. ok is false when the run status carries no task level meaning.
func TaskStatusForRun(run RunStatus) (TaskStatus, bool) {
	switch run {
	case RunPending:
		return TaskPreparing, true
	case RunRunning:
		return TaskRunning, true
	case RunFinished:
		return TaskSuccess, true
	case RunFailed:
		return TaskFail, true
	case RunCanceled:
		return TaskCanceled, true
	default:
		return TaskUnknown, false
	}
}

func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskCreated, TaskReady, TaskAssigning, TaskPaused, TaskPreparing, TaskRunning, TaskRetrying,
		TaskSuccess, TaskFail, TaskToCancel, TaskCancelling, TaskCanceled, TaskUnknown,
	}
}
