package runplane

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/runplane/internal/runplane/configuration"
	"github.com/armadaproject/runplane/internal/runplane/dispatch"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

func testConfiguration() configuration.RunplaneConfiguration {
	return configuration.RunplaneConfiguration{
		Reporter:   configuration.ReporterConfiguration{InitialDelay: time.Hour, Interval: time.Hour},
		Gc:         configuration.GcConfiguration{GracePeriod: time.Minute, SweepInterval: time.Hour, DedupWindow: time.Hour},
		Scheduling: configuration.SchedulingConfiguration{Interval: time.Hour, DefaultBackoffLimit: 2},
		Pools: []configuration.PoolConfiguration{
			{
				Name:    "local",
				Backend: "docker",
				Devices: map[task.DeviceClass]int{task.GPU: 0, task.CPU: 0},
				Docker:  configuration.DockerConfiguration{Host: "tcp://127.0.0.1:2375"},
			},
		},
	}
}

func TestStartUp_InMemory(t *testing.T) {
	services, shutdown, err := StartUp(context.Background(), testConfiguration(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer shutdown()

	assert.Len(t, services.Pools.Pools(), 1)
	assert.Equal(t, 0, services.Cache.Len())
	assert.Error(t, services.Controller.Submit(context.Background(), dispatch.Submission{Id: "t1", Pool: "local", DeviceClass: task.GPU}))
}

func TestStartUp_InvalidConfiguration(t *testing.T) {
	config := testConfiguration()
	config.Pools = nil

	_, _, err := StartUp(context.Background(), config, prometheus.NewRegistry())

	assert.Error(t, err)
}

func TestDescribePools(t *testing.T) {
	config := testConfiguration()
	config.Pools = append(config.Pools, configuration.PoolConfiguration{
		Name:       "cluster",
		Backend:    "kubernetes",
		Devices:    map[task.DeviceClass]int{task.GPU: 4, task.CPU: 16},
		Kubernetes: configuration.KubernetesConfiguration{InCluster: true, Namespace: "jobs"},
	})

	descriptions, err := DescribePools(config)

	require.NoError(t, err)
	assert.Equal(t, []string{
		"local -> docker:tcp://127.0.0.1:2375 [CPU=0 GPU=0]",
		"cluster -> kubernetes:in-cluster/jobs [CPU=16 GPU=4]",
	}, descriptions)
}
