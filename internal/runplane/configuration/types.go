package configuration

import (
	"time"

	"github.com/armadaproject/runplane/internal/runplane/task"
)

type ReporterConfiguration struct {
	InitialDelay time.Duration
	Interval     time.Duration `validate:"gt=0"`
}

type GcConfiguration struct {
	// Zero or less removes units as soon as their run terminates.
	GracePeriod   time.Duration
	SweepInterval time.Duration `validate:"gt=0"`
	// How long a removed run is remembered so that repeated reports do not enqueue it again.
	DedupWindow time.Duration `validate:"gt=0"`
}

type SchedulingConfiguration struct {
	Interval            time.Duration `validate:"gt=0"`
	DefaultBackoffLimit int           `validate:"gte=0"`
}

type RedisConfiguration struct {
	// Tasks are kept in memory only when empty.
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
}

type LogConfiguration struct {
	// Unit logs are not captured when empty.
	Dir string
}

type DockerConfiguration struct {
	Host       string
	ApiVersion string
	Network    string
	GpuDriver  string
}

type KubernetesConfiguration struct {
	InCluster  bool
	Kubeconfig string
	Namespace  string
	QPS        float32
	Burst      int
}

type PoolConfiguration struct {
	Name       string                   `validate:"required"`
	Backend    string                   `validate:"required,oneof=docker kubernetes"`
	Devices    map[task.DeviceClass]int `validate:"required,min=1,dive,gte=0"`
	Docker     DockerConfiguration
	Kubernetes KubernetesConfiguration
}

type RunplaneConfiguration struct {
	MetricsPort uint16
	Reporter    ReporterConfiguration
	Gc          GcConfiguration
	Scheduling  SchedulingConfiguration
	Redis       RedisConfiguration
	Logs        LogConfiguration
	Pools       []PoolConfiguration `validate:"required,min=1,dive"`
}
