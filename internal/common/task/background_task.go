package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

type task struct {
	function     func()
	initialDelay time.Duration
	interval     time.Duration
	metricName   string
	stopChannel  chan struct{}
}

// BackgroundTaskManager is not threadsafe, it should only be accessed from a single thread.
type BackgroundTaskManager struct {
	tasks         []*task
	metricsPrefix string
	registerer    prometheus.Registerer
	wg            *sync.WaitGroup
}

func NewBackgroundTaskManager(metricsPrefix string, registerer prometheus.Registerer) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		tasks:         []*task{},
		metricsPrefix: metricsPrefix,
		registerer:    registerer,
		wg:            &sync.WaitGroup{},
	}
}

// Register runs backgroundTask immediately and then every interval until StopAll is called.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, metricName string) {
	m.RegisterWithDelay(backgroundTask, 0, interval, metricName)
}

// RegisterWithDelay waits initialDelay before the first execution of backgroundTask.
func (m *BackgroundTaskManager) RegisterWithDelay(backgroundTask func(), initialDelay time.Duration, interval time.Duration, metricName string) {
	task := &task{
		function:     backgroundTask,
		initialDelay: initialDelay,
		interval:     interval,
		metricName:   metricName,
		stopChannel:  make(chan struct{}),
	}
	m.startBackgroundTask(task)
	m.tasks = append(m.tasks, task)
}

// StopAll signals every task to stop and returns true if they did not all finish within timeout.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopTasks()
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startBackgroundTask(task *task) {
	taskDurationHistogram := promauto.With(m.registerer).NewHistogram(
		prometheus.HistogramOpts{
			Name:    m.metricsPrefix + task.metricName + "_latency_seconds",
			Help:    "Background loop " + task.metricName + " latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if task.initialDelay > 0 {
			select {
			case <-time.After(task.initialDelay):
			case <-task.stopChannel:
				return
			}
		}

		for {
			start := time.Now()
			runSafely(task)
			taskDurationHistogram.Observe(time.Since(start).Seconds())

			select {
			case <-time.After(task.interval):
			case <-task.stopChannel:
				return
			}
		}
	}()
}

// A panicking iteration must not kill the loop, the next tick gets another chance.
func runSafely(task *task) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("background task %s panicked: %v", task.metricName, r)
		}
	}()
	task.function()
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}

func (m *BackgroundTaskManager) stopTasks() {
	for _, task := range m.tasks {
		close(task.stopChannel)
	}
	m.tasks = nil
}
