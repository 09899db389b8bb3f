package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/armadaproject/runplane/internal/runplane/status"
)

const MetricPrefix = "runplane_"

type Metrics struct {
	taskTransitions *prometheus.CounterVec
	retries         prometheus.Counter
	polls           *prometheus.CounterVec
	reportedRuns    *prometheus.CounterVec
	staleReports    prometheus.Counter
	startFailures   *prometheus.CounterVec
	gcRemovals      *prometheus.CounterVec
	gcQueueLength   prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		taskTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "task_transitions_total",
				Help: "Number of applied task status transitions",
			},
			[]string{"from", "to"},
		),
		retries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPrefix + "task_retries_total",
				Help: "Number of failed runs that were retried",
			},
		),
		polls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "reporter_polls_total",
				Help: "Number of backend polls by backend client and result",
			},
			[]string{"client", "result"},
		),
		reportedRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "reported_runs_total",
				Help: "Number of run reports handed to the reconciliation chain",
			},
			[]string{"pool", "status"},
		),
		staleReports: factory.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPrefix + "stale_reports_total",
				Help: "Number of reports ignored because they belong to a run that is no longer current",
			},
		),
		startFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "run_start_failures_total",
				Help: "Number of runs that could not be started",
			},
			[]string{"pool"},
		),
		gcRemovals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "gc_removals_total",
				Help: "Number of units removed by the delayed garbage collector",
			},
			[]string{"result"},
		),
		gcQueueLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricPrefix + "gc_queue_length",
				Help: "Number of runs waiting for their unit to be removed",
			},
		),
	}
}

func (m *Metrics) RecordTransition(from, to status.TaskStatus) {
	m.taskTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) RecordRetry() {
	m.retries.Inc()
}

func (m *Metrics) RecordPoll(client string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.polls.WithLabelValues(client, result).Inc()
}

func (m *Metrics) RecordReportedRun(pool string, s status.RunStatus) {
	m.reportedRuns.WithLabelValues(pool, string(s)).Inc()
}

func (m *Metrics) RecordStaleReport() {
	m.staleReports.Inc()
}

func (m *Metrics) RecordStartFailure(pool string) {
	m.startFailures.WithLabelValues(pool).Inc()
}

func (m *Metrics) RecordGcRemoval(err error) {
	result := "removed"
	if err != nil {
		result = "gave_up"
	}
	m.gcRemovals.WithLabelValues(result).Inc()
}

func (m *Metrics) SetGcQueueLength(length int) {
	m.gcQueueLength.Set(float64(length))
}
