package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/armadaproject/runplane/internal/runplane/pool"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

var (
	queuedTasksDesc = prometheus.NewDesc(
		MetricPrefix+"queued_tasks",
		"Number of ready tasks waiting for a device",
		[]string{"pool", "device_class"}, nil,
	)
	usedDevicesDesc = prometheus.NewDesc(
		MetricPrefix+"used_devices",
		"Number of device slots held by a run",
		[]string{"pool", "device_class"}, nil,
	)
	deviceCapacityDesc = prometheus.NewDesc(
		MetricPrefix+"device_capacity",
		"Number of device slots configured",
		[]string{"pool", "device_class"}, nil,
	)
	cachedTasksDesc = prometheus.NewDesc(
		MetricPrefix+"cached_tasks",
		"Number of tasks in the hot cache by status",
		[]string{"status"}, nil,
	)
)

// StateCollector reports queue depth, device usage and cached task counts at scrape time.
type StateCollector struct {
	pools pool.Provider
	cache *task.Cache
}

func NewStateCollector(pools pool.Provider, cache *task.Cache) *StateCollector {
	return &StateCollector{pools: pools, cache: cache}
}

func (c *StateCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- queuedTasksDesc
	desc <- usedDevicesDesc
	desc <- deviceCapacityDesc
	desc <- cachedTasksDesc
}

func (c *StateCollector) Collect(metrics chan<- prometheus.Metric) {
	for _, p := range c.pools.Pools() {
		for class, ids := range p.Scheduler.Queued() {
			metrics <- prometheus.MustNewConstMetric(queuedTasksDesc, prometheus.GaugeValue, float64(len(ids)), p.Name, string(class))
		}
		for class, idle := range p.Devices.IdleCounts() {
			capacity := p.Devices.Capacity(class)
			metrics <- prometheus.MustNewConstMetric(usedDevicesDesc, prometheus.GaugeValue, float64(capacity-idle), p.Name, string(class))
			metrics <- prometheus.MustNewConstMetric(deviceCapacityDesc, prometheus.GaugeValue, float64(capacity), p.Name, string(class))
		}
	}

	counts := map[string]int{}
	for _, t := range c.cache.All() {
		counts[string(t.Status())]++
	}
	for s, count := range counts {
		metrics <- prometheus.MustNewConstMetric(cachedTasksDesc, prometheus.GaugeValue, float64(count), s)
	}
}
