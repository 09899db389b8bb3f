package configuration

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/armadaproject/runplane/internal/runplane/task"
)

func validConfiguration() RunplaneConfiguration {
	return RunplaneConfiguration{
		MetricsPort: 9001,
		Reporter:    ReporterConfiguration{InitialDelay: time.Second, Interval: 5 * time.Second},
		Gc:          GcConfiguration{GracePeriod: time.Minute, SweepInterval: time.Second, DedupWindow: time.Hour},
		Scheduling:  SchedulingConfiguration{Interval: time.Second, DefaultBackoffLimit: 2},
		Pools: []PoolConfiguration{
			{Name: "local", Backend: "docker", Devices: map[task.DeviceClass]int{task.CPU: 4, task.GPU: 1}},
			{
				Name:       "cluster",
				Backend:    "kubernetes",
				Devices:    map[task.DeviceClass]int{task.GPU: 8},
				Kubernetes: KubernetesConfiguration{Namespace: "runplane", QPS: 10, Burst: 20},
			},
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, validConfiguration().Validate())
}

func TestValidate_StructTags(t *testing.T) {
	tests := map[string]func(c *RunplaneConfiguration){
		"no pools":               func(c *RunplaneConfiguration) { c.Pools = nil },
		"zero reporter interval": func(c *RunplaneConfiguration) { c.Reporter.Interval = 0 },
		"zero sweep interval":    func(c *RunplaneConfiguration) { c.Gc.SweepInterval = 0 },
		"negative backoff limit": func(c *RunplaneConfiguration) { c.Scheduling.DefaultBackoffLimit = -1 },
		"unknown backend":        func(c *RunplaneConfiguration) { c.Pools[0].Backend = "nomad" },
		"unnamed pool":           func(c *RunplaneConfiguration) { c.Pools[0].Name = "" },
		"pool without devices":   func(c *RunplaneConfiguration) { c.Pools[0].Devices = nil },
		"negative device count":  func(c *RunplaneConfiguration) { c.Pools[0].Devices[task.CPU] = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := validConfiguration()
			mutate(&c)

			err := c.Validate()

			assert.Error(t, err)
			assert.IsType(t, validator.ValidationErrors{}, err)
		})
	}
}

func TestValidate_CrossFieldChecks(t *testing.T) {
	tests := map[string]func(c *RunplaneConfiguration){
		"duplicate pool":       func(c *RunplaneConfiguration) { c.Pools[1].Name = "local" },
		"missing namespace":    func(c *RunplaneConfiguration) { c.Pools[1].Kubernetes.Namespace = "" },
		"unknown device class": func(c *RunplaneConfiguration) { c.Pools[0].Devices["TPU"] = 1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := validConfiguration()
			mutate(&c)

			assert.Error(t, c.Validate())
		})
	}
}

func TestPool(t *testing.T) {
	c := validConfiguration()

	pool, ok := c.Pool("cluster")
	assert.True(t, ok)
	assert.Equal(t, "kubernetes", pool.Backend)

	_, ok = c.Pool("missing")
	assert.False(t, ok)
}
