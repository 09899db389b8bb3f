package executor

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/armadaproject/runplane/internal/runplane/task"
)

const (
	LabelManagedBy  = "runplane.io/managed-by"
	ManagedByValue  = "runplane"
	LabelTaskId     = "runplane.io/task-id"
	LabelRunId      = "runplane.io/run-id"
	LabelGeneration = "runplane.io/generation"
	LabelPool       = "runplane.io/pool"
	LabelRetryNum   = "runplane.io/retry-num"
)

type Kind string

const (
	Docker     Kind = "docker"
	Kubernetes Kind = "kubernetes"
)

// UnitSpec is everything a backend needs to create one execution unit.
type UnitSpec struct {
	Name        string
	Labels      map[string]string
	Image       string
	Command     []string
	Env         map[string]string
	Resources   map[string]resource.Quantity
	DeviceClass task.DeviceClass
}

// BackendUnit is a container or pod as listed by a backend, before classification.
type BackendUnit struct {
	Name   string
	Labels map[string]string
	// State as reported natively, e.g. "exited" for docker or "Failed" for a pod phase.
	NativeStatus string
	// Set once the unit terminated.
	ExitCode   *int
	Message    string
	Ip         string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (u BackendUnit) TaskId() string {
	return u.Labels[LabelTaskId]
}

func (u BackendUnit) RunId() string {
	return u.Labels[LabelRunId]
}

func (u BackendUnit) Pool() string {
	return u.Labels[LabelPool]
}

func (u BackendUnit) IsManaged() bool {
	return u.Labels[LabelManagedBy] == ManagedByValue && u.TaskId() != "" && u.RunId() != ""
}

// Generation parses the generation label. ok is false if it is absent or malformed.
func (u BackendUnit) Generation() (int64, bool, error) {
	return parseIntLabel(u.Labels, LabelGeneration)
}

func (u BackendUnit) RetryNum() (int64, bool, error) {
	return parseIntLabel(u.Labels, LabelRetryNum)
}

func parseIntLabel(labels map[string]string, key string) (int64, bool, error) {
	raw, present := labels[key]
	if !present {
		return 0, false, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("label %s has non numeric value %q", key, raw)
	}
	return value, true, nil
}

// Backend is the narrow contract each container runtime or cluster adapter implements.
type Backend interface {
	Kind() Kind
	// ClientKey identifies the underlying client. Pools sharing a key are listed once.
	ClientKey() string
	CreateUnit(ctx context.Context, spec UnitSpec) error
	// ListUnits returns the managed units of the given pools, or of every pool if none are given.
	ListUnits(ctx context.Context, pools []string) ([]BackendUnit, error)
	// DeleteUnit returns ErrUnitNotFound if the unit does not exist.
	DeleteUnit(ctx context.Context, name string) error
	UnitLogs(ctx context.Context, name string) (io.ReadCloser, error)
}

type RunHandle struct {
	Run *task.Run
}

// RunExecutor starts, lists and removes the execution units of runs for one resource pool.
type RunExecutor interface {
	Kind() Kind
	ClientKey() string
	Pool() string
	Start(ctx context.Context, t *task.Task, spec task.Spec) (*RunHandle, error)
	ListActive(ctx context.Context, pools ...string) ([]BackendUnit, error)
	// Remove deletes the unit of the run. A unit that is already gone counts as removed.
	Remove(ctx context.Context, run task.RunView) error
	Logs(ctx context.Context, run task.RunView) (io.ReadCloser, error)
}

// Lookup resolves the executor serving a resource pool.
type Lookup interface {
	ExecutorFor(pool string) (RunExecutor, error)
}

// RunRecorder persists freshly started runs.
type RunRecorder interface {
	CreateRun(ctx context.Context, run task.RunView) error
}

var invalidNameCharacters = regexp.MustCompile("[^a-z0-9-]+")

// UnitName is valid both as a container name and as a pod name.
func UnitName(taskId string, generation int64) string {
	name := invalidNameCharacters.ReplaceAllString(strings.ToLower(taskId), "-")
	name = strings.Trim(name, "-")
	suffix := fmt.Sprintf("-%d", generation)
	maxLength := 63 - len("runplane-") - len(suffix)
	if len(name) > maxLength {
		name = strings.TrimRight(name[:maxLength], "-")
	}
	return "runplane-" + name + suffix
}

func UnitLabels(t task.View, runId string, generation int64, pool string) map[string]string {
	return map[string]string{
		LabelManagedBy:  ManagedByValue,
		LabelTaskId:     t.Id(),
		LabelRunId:      runId,
		LabelGeneration: strconv.FormatInt(generation, 10),
		LabelPool:       pool,
		LabelRetryNum:   strconv.Itoa(t.RetryNum()),
	}
}
