// Package explainer maps the native state of backend units onto run and task statuses.
package explainer

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/runplane/internal/runplane/executor"
	"github.com/armadaproject/runplane/internal/runplane/status"
)

type Explanation struct {
	RunStatus  status.RunStatus
	TaskStatus status.TaskStatus
	// Only set for failed units.
	FailedReason string
}

type StatusExplainer interface {
	Classify(unit executor.BackendUnit) Explanation
}

// ForKind returns the explainer for units of the given backend kind.
func ForKind(kind executor.Kind) (StatusExplainer, error) {
	switch kind {
	case executor.Docker:
		return ContainerExplainer{}, nil
	case executor.Kubernetes:
		return PodExplainer{}, nil
	default:
		return nil, fmt.Errorf("no status explainer for backend kind %q", kind)
	}
}

func explain(run status.RunStatus) Explanation {
	taskStatus, ok := status.TaskStatusForRun(run)
	if !ok {
		taskStatus = status.TaskUnknown
	}
	return Explanation{RunStatus: run, TaskStatus: taskStatus}
}

func unknown(kind executor.Kind, unit executor.BackendUnit) Explanation {
	log.Warnf("Unit %s reports unrecognised %s state %q", unit.Name, kind, unit.NativeStatus)
	return Explanation{RunStatus: status.RunUnknown, TaskStatus: status.TaskUnknown}
}

type ContainerExplainer struct{}

func (ContainerExplainer) Classify(unit executor.BackendUnit) Explanation {
	switch unit.NativeStatus {
	case "created":
		return explain(status.RunPending)
	// Paused and restarting containers still hold their device.
	case "running", "paused", "restarting":
		return explain(status.RunRunning)
	case "dead":
		return failed(unit)
	case "exited":
		// The exit code comes from inspection, which can fail transiently.
		if unit.ExitCode == nil {
			log.Warnf("Unit %s exited with no known exit code, leaving it for the next pass", unit.Name)
			return Explanation{RunStatus: status.RunUnknown, TaskStatus: status.TaskUnknown}
		}
		if *unit.ExitCode == 0 {
			return explain(status.RunFinished)
		}
		return failed(unit)
	default:
		return unknown(executor.Docker, unit)
	}
}

type PodExplainer struct{}

func (PodExplainer) Classify(unit executor.BackendUnit) Explanation {
	switch unit.NativeStatus {
	case "Pending":
		if unit.Message != "" {
			return failed(unit)
		}
		return explain(status.RunPending)
	case "Running":
		return explain(status.RunRunning)
	case "Succeeded":
		return explain(status.RunFinished)
	case "Failed":
		return failed(unit)
	default:
		return unknown(executor.Kubernetes, unit)
	}
}

func failed(unit executor.BackendUnit) Explanation {
	explanation := explain(status.RunFailed)
	explanation.FailedReason = failedReason(unit)
	return explanation
}

func failedReason(unit executor.BackendUnit) string {
	if unit.Message != "" {
		return unit.Message
	}
	if unit.ExitCode != nil {
		return fmt.Sprintf("%s with exit code %d", unit.NativeStatus, *unit.ExitCode)
	}
	return unit.NativeStatus
}
