package kubernetes

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
	v1 "k8s.io/api/core/v1"
)

var unrecoverableWaitingReasons = map[string]bool{
	"InvalidImageName":           true,
	"CreateContainerConfigError": true,
}

// podFailedReason summarises why a pod failed, preferring the message kubernetes set on the pod.
func podFailedReason(pod *v1.Pod) string {
	if pod.Status.Message != "" {
		return pod.Status.Message
	}
	var failedMessage strings.Builder
	for _, containerStatus := range allContainerStatuses(pod) {
		terminated := containerStatus.State.Terminated
		if terminated != nil && terminated.ExitCode != 0 {
			failedMessage.WriteString(fmt.Sprintf("Container %s failed with exit code %d because %s: %s\n",
				containerStatus.Name, terminated.ExitCode, terminated.Reason, terminated.Message))
		}
	}
	if failedMessage.Len() == 0 && pod.Status.Reason != "" {
		return pod.Status.Reason
	}
	return strings.TrimSuffix(failedMessage.String(), "\n")
}

// unrecoverableReason is set for pending pods whose containers can never start.
func unrecoverableReason(pod *v1.Pod) string {
	if pod.Status.Phase != v1.PodPending {
		return ""
	}
	for _, containerStatus := range allContainerStatuses(pod) {
		waiting := containerStatus.State.Waiting
		if waiting != nil && unrecoverableWaitingReasons[waiting.Reason] {
			return fmt.Sprintf("Container %s failed to start because %s: %s", containerStatus.Name, waiting.Reason, waiting.Message)
		}
	}
	return ""
}

func exitCode(pod *v1.Pod) *int {
	var result *int
	for _, containerStatus := range allContainerStatuses(pod) {
		if containerStatus.State.Terminated == nil {
			continue
		}
		code := int(containerStatus.State.Terminated.ExitCode)
		if result == nil || code != 0 {
			result = &code
		}
	}
	return result
}

func allContainerStatuses(pod *v1.Pod) []v1.ContainerStatus {
	statuses := make([]v1.ContainerStatus, 0, len(pod.Status.ContainerStatuses)+len(pod.Status.InitContainerStatuses))
	statuses = append(statuses, pod.Status.ContainerStatuses...)
	return append(statuses, pod.Status.InitContainerStatuses...)
}

func sortEnv(env []v1.EnvVar) {
	slices.SortFunc(env, func(a, b v1.EnvVar) bool {
		return a.Name < b.Name
	})
}
