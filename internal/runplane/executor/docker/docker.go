// Package docker runs units as containers on a single docker daemon.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	lru "github.com/hashicorp/golang-lru"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/armadaproject/runplane/internal/runplane/configuration"
	"github.com/armadaproject/runplane/internal/runplane/executor"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

const inspectCacheSize = 4096

// Api is the part of the docker client the backend uses.
type Api interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
}

type inspected struct {
	exitCode   *int
	message    string
	ip         string
	startedAt  time.Time
	finishedAt time.Time
}

type Backend struct {
	api       Api
	clientKey string
	network   string
	gpuDriver string
	// Inspect results keyed by container id and state. A container is inspected once per state it is seen in.
	inspectCache *lru.Cache
}

func NewBackend(api Api, clientKey string, settings configuration.DockerConfiguration) (*Backend, error) {
	cache, err := lru.New(inspectCacheSize)
	if err != nil {
		return nil, err
	}
	return &Backend{
		api:          api,
		clientKey:    clientKey,
		network:      settings.Network,
		gpuDriver:    settings.GpuDriver,
		inspectCache: cache,
	}, nil
}

// NewFactory returns a backend factory that shares one backend between pools pointing at the same daemon.
func NewFactory() executor.BackendFactory {
	backends := map[string]*Backend{}
	return func(pool configuration.PoolConfiguration) (executor.Backend, error) {
		key := ClientKey(pool.Docker)
		if backend, present := backends[key]; present {
			return backend, nil
		}
		options := []client.Opt{client.FromEnv}
		if pool.Docker.Host != "" {
			options = append(options, client.WithHost(pool.Docker.Host))
		}
		if pool.Docker.ApiVersion != "" {
			options = append(options, client.WithVersion(pool.Docker.ApiVersion))
		} else {
			options = append(options, client.WithAPIVersionNegotiation())
		}
		dockerClient, err := client.NewClientWithOpts(options...)
		if err != nil {
			return nil, errors.WithMessagef(err, "creating docker client for pool %s", pool.Name)
		}
		backend, err := NewBackend(dockerClient, key, pool.Docker)
		if err != nil {
			return nil, err
		}
		backends[key] = backend
		return backend, nil
	}
}

func ClientKey(settings configuration.DockerConfiguration) string {
	host := settings.Host
	if host == "" {
		host = client.DefaultDockerHost
	}
	return "docker:" + host
}

func (b *Backend) Kind() executor.Kind {
	return executor.Docker
}

func (b *Backend) ClientKey() string {
	return b.clientKey
}

func (b *Backend) CreateUnit(ctx context.Context, spec executor.UnitSpec) error {
	config := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Command,
		Labels: spec.Labels,
	}
	for _, key := range sortedKeys(spec.Env) {
		config.Env = append(config.Env, key+"="+spec.Env[key])
	}
	hostConfig := &container.HostConfig{
		Resources: b.resources(spec),
	}
	if b.network != "" {
		hostConfig.NetworkMode = container.NetworkMode(b.network)
	}

	created, err := b.api.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return errors.WithMessagef(err, "creating container %s", spec.Name)
	}
	for _, warning := range created.Warnings {
		log.Warnf("Docker warning while creating container %s: %s", spec.Name, warning)
	}

	if err := b.api.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		removeErr := b.api.ContainerRemove(ctx, created.ID, types.ContainerRemoveOptions{Force: true})
		if removeErr != nil && !errdefs.IsNotFound(removeErr) {
			log.Errorf("Failed to remove container %s that did not start: %v", spec.Name, removeErr)
		}
		return errors.WithMessagef(err, "starting container %s", spec.Name)
	}
	return nil
}

func (b *Backend) resources(spec executor.UnitSpec) container.Resources {
	result := container.Resources{}
	if cpu, present := spec.Resources["cpu"]; present {
		result.NanoCPUs = cpu.MilliValue() * 1000000
	}
	if memory, present := spec.Resources["memory"]; present {
		result.Memory = memory.Value()
	}
	if spec.DeviceClass == task.GPU {
		count := 1
		if gpus, present := gpuQuantity(spec.Resources); present {
			count = int(gpus.Value())
		}
		result.DeviceRequests = []container.DeviceRequest{{
			Driver:       b.gpuDriver,
			Count:        count,
			Capabilities: [][]string{{"gpu"}},
		}}
	}
	return result
}

func gpuQuantity(resources map[string]resource.Quantity) (resource.Quantity, bool) {
	for _, key := range []string{"nvidia.com/gpu", "gpu"} {
		if quantity, present := resources[key]; present {
			return quantity, true
		}
	}
	return resource.Quantity{}, false
}

func (b *Backend) ListUnits(ctx context.Context, pools []string) ([]executor.BackendUnit, error) {
	containers, err := b.api.ContainerList(ctx, types.ContainerListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", executor.LabelManagedBy+"="+executor.ManagedByValue),
		),
	})
	if err != nil {
		return nil, errors.WithMessage(err, "listing containers")
	}

	wanted := map[string]bool{}
	for _, pool := range pools {
		wanted[pool] = true
	}

	units := make([]executor.BackendUnit, 0, len(containers))
	for _, c := range containers {
		if len(wanted) > 0 && !wanted[c.Labels[executor.LabelPool]] {
			continue
		}
		unit := executor.BackendUnit{
			Name:         containerName(c),
			Labels:       c.Labels,
			NativeStatus: c.State,
			Ip:           summaryIp(c),
		}
		details, err := b.inspect(ctx, c.ID, c.State)
		if err != nil {
			// The listing alone is enough to classify everything but exited containers.
			log.Warnf("Failed to inspect container %s: %v", unit.Name, err)
		} else {
			unit.ExitCode = details.exitCode
			unit.Message = details.message
			unit.StartedAt = details.startedAt
			unit.FinishedAt = details.finishedAt
			if unit.Ip == "" {
				unit.Ip = details.ip
			}
		}
		units = append(units, unit)
	}
	return units, nil
}

func (b *Backend) inspect(ctx context.Context, containerId string, state string) (inspected, error) {
	cacheKey := containerId + "/" + state
	if cached, present := b.inspectCache.Get(cacheKey); present {
		return cached.(inspected), nil
	}
	details, err := b.api.ContainerInspect(ctx, containerId)
	if err != nil {
		return inspected{}, err
	}
	result := inspected{}
	if details.State != nil {
		if details.State.Status == "exited" || details.State.Status == "dead" {
			exitCode := details.State.ExitCode
			result.exitCode = &exitCode
		}
		result.message = details.State.Error
		result.startedAt = parseDockerTime(details.State.StartedAt)
		result.finishedAt = parseDockerTime(details.State.FinishedAt)
	}
	if details.NetworkSettings != nil {
		result.ip = details.NetworkSettings.IPAddress
		for _, endpoint := range details.NetworkSettings.Networks {
			if result.ip == "" && endpoint != nil {
				result.ip = endpoint.IPAddress
			}
		}
	}
	b.inspectCache.Add(cacheKey, result)
	return result, nil
}

func (b *Backend) DeleteUnit(ctx context.Context, name string) error {
	err := b.api.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: true, RemoveVolumes: true})
	if errdefs.IsNotFound(err) {
		return executor.ErrUnitNotFound
	}
	return err
}

func (b *Backend) UnitLogs(ctx context.Context, name string) (io.ReadCloser, error) {
	reader, err := b.api.ContainerLogs(ctx, name, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true, Timestamps: true})
	if errdefs.IsNotFound(err) {
		return nil, executor.ErrUnitNotFound
	}
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, reader); err != nil {
		return nil, errors.WithMessagef(err, "reading logs of container %s", name)
	}
	return io.NopCloser(&output), nil
}

func containerName(c types.Container) string {
	if len(c.Names) == 0 {
		return c.ID
	}
	// docker prefixes names with their parent, "/" for top level containers
	name := c.Names[0]
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	return name
}

func summaryIp(c types.Container) string {
	if c.NetworkSettings == nil {
		return ""
	}
	names := maps.Keys(c.NetworkSettings.Networks)
	slices.Sort(names)
	for _, name := range names {
		if endpoint := c.NetworkSettings.Networks[name]; endpoint != nil && endpoint.IPAddress != "" {
			return endpoint.IPAddress
		}
	}
	return ""
}

func parseDockerTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil || parsed.Year() <= 1 {
		return time.Time{}
	}
	return parsed
}

func sortedKeys(m map[string]string) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

func (b *Backend) String() string {
	return fmt.Sprintf("docker backend %s", b.clientKey)
}
