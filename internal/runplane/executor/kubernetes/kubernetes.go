// Package kubernetes runs units as single container pods in one namespace.
package kubernetes

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"
	k8s_errors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"
	"k8s.io/client-go/kubernetes"

	"github.com/armadaproject/runplane/internal/common/cluster"
	"github.com/armadaproject/runplane/internal/runplane/configuration"
	"github.com/armadaproject/runplane/internal/runplane/executor"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

const (
	containerName    = "main"
	gpuResourceName  = "nvidia.com/gpu"
	terminationGrace = int64(0)
)

type Backend struct {
	client    kubernetes.Interface
	namespace string
	clientKey string
}

func NewBackend(client kubernetes.Interface, namespace string, clientKey string) *Backend {
	return &Backend{
		client:    client,
		namespace: namespace,
		clientKey: clientKey,
	}
}

// NewFactory returns a backend factory that shares one client between pools using the same cluster and namespace.
func NewFactory() executor.BackendFactory {
	backends := map[string]*Backend{}
	return func(pool configuration.PoolConfiguration) (executor.Backend, error) {
		key := ClientKey(pool.Kubernetes)
		if backend, present := backends[key]; present {
			return backend, nil
		}
		client, _, err := cluster.NewKubernetesClient(cluster.ClientSettings{
			InCluster:  pool.Kubernetes.InCluster,
			Kubeconfig: pool.Kubernetes.Kubeconfig,
			QPS:        pool.Kubernetes.QPS,
			Burst:      pool.Kubernetes.Burst,
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "creating kubernetes client for pool %s", pool.Name)
		}
		backend := NewBackend(client, pool.Kubernetes.Namespace, key)
		backends[key] = backend
		return backend, nil
	}
}

func ClientKey(settings configuration.KubernetesConfiguration) string {
	source := "in-cluster"
	if !settings.InCluster {
		source = settings.Kubeconfig
		if source == "" {
			source = "default"
		}
	}
	return fmt.Sprintf("kubernetes:%s/%s", source, settings.Namespace)
}

func (b *Backend) Kind() executor.Kind {
	return executor.Kubernetes
}

func (b *Backend) ClientKey() string {
	return b.clientKey
}

func (b *Backend) CreateUnit(ctx context.Context, spec executor.UnitSpec) error {
	pod := createPod(spec, b.namespace)
	_, err := b.client.CoreV1().Pods(b.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return errors.WithMessagef(err, "creating pod %s/%s", b.namespace, spec.Name)
	}
	return nil
}

func createPod(spec executor.UnitSpec, namespace string) *v1.Pod {
	resources := v1.ResourceList{}
	for name, quantity := range spec.Resources {
		resources[v1.ResourceName(name)] = quantity
	}
	if spec.DeviceClass == task.GPU {
		if _, present := resources[gpuResourceName]; !present {
			resources[gpuResourceName] = resource.MustParse("1")
		}
	}

	env := make([]v1.EnvVar, 0, len(spec.Env))
	for name, value := range spec.Env {
		env = append(env, v1.EnvVar{Name: name, Value: value})
	}
	sortEnv(env)

	grace := terminationGrace
	return &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: namespace,
			Labels:    spec.Labels,
		},
		Spec: v1.PodSpec{
			RestartPolicy:                 v1.RestartPolicyNever,
			TerminationGracePeriodSeconds: &grace,
			Containers: []v1.Container{{
				Name:    containerName,
				Image:   spec.Image,
				Command: spec.Command,
				Env:     env,
				Resources: v1.ResourceRequirements{
					Requests: resources,
					Limits:   resources.DeepCopy(),
				},
			}},
		},
	}
}

func (b *Backend) ListUnits(ctx context.Context, pools []string) ([]executor.BackendUnit, error) {
	selector, err := unitSelector(pools)
	if err != nil {
		return nil, err
	}
	pods, err := b.client.CoreV1().Pods(b.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, errors.WithMessagef(err, "listing pods in %s", b.namespace)
	}

	units := make([]executor.BackendUnit, 0, len(pods.Items))
	for i := range pods.Items {
		units = append(units, toUnit(&pods.Items[i]))
	}
	return units, nil
}

func unitSelector(pools []string) (labels.Selector, error) {
	managed, err := labels.NewRequirement(executor.LabelManagedBy, selection.Equals, []string{executor.ManagedByValue})
	if err != nil {
		return nil, err
	}
	selector := labels.NewSelector().Add(*managed)
	if len(pools) > 0 {
		inPools, err := labels.NewRequirement(executor.LabelPool, selection.In, pools)
		if err != nil {
			return nil, err
		}
		selector = selector.Add(*inPools)
	}
	return selector, nil
}

func toUnit(pod *v1.Pod) executor.BackendUnit {
	unit := executor.BackendUnit{
		Name:         pod.Name,
		Labels:       pod.Labels,
		NativeStatus: string(pod.Status.Phase),
		ExitCode:     exitCode(pod),
		Ip:           pod.Status.PodIP,
	}
	if pod.Status.StartTime != nil {
		unit.StartedAt = pod.Status.StartTime.Time
	}
	unit.FinishedAt = finishedAt(pod)

	switch pod.Status.Phase {
	case v1.PodFailed:
		unit.Message = podFailedReason(pod)
	case v1.PodPending:
		unit.Message = unrecoverableReason(pod)
	}
	return unit
}

func finishedAt(pod *v1.Pod) time.Time {
	var latest time.Time
	for _, containerStatus := range allContainerStatuses(pod) {
		if terminated := containerStatus.State.Terminated; terminated != nil && terminated.FinishedAt.After(latest) {
			latest = terminated.FinishedAt.Time
		}
	}
	return latest
}

func (b *Backend) DeleteUnit(ctx context.Context, name string) error {
	grace := terminationGrace
	err := b.client.CoreV1().Pods(b.namespace).Delete(ctx, name, metav1.DeleteOptions{GracePeriodSeconds: &grace})
	if k8s_errors.IsNotFound(err) {
		return executor.ErrUnitNotFound
	}
	return err
}

func (b *Backend) UnitLogs(ctx context.Context, name string) (io.ReadCloser, error) {
	stream, err := b.client.CoreV1().Pods(b.namespace).GetLogs(name, &v1.PodLogOptions{Container: containerName, Timestamps: true}).Stream(ctx)
	if k8s_errors.IsNotFound(err) {
		return nil, executor.ErrUnitNotFound
	}
	return stream, err
}
