package runplane

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/armadaproject/runplane/internal/common"
	"github.com/armadaproject/runplane/internal/common/app"
	"github.com/armadaproject/runplane/internal/common/health"
	commontask "github.com/armadaproject/runplane/internal/common/task"
	"github.com/armadaproject/runplane/internal/runplane/collaborator"
	"github.com/armadaproject/runplane/internal/runplane/configuration"
	"github.com/armadaproject/runplane/internal/runplane/dispatch"
	"github.com/armadaproject/runplane/internal/runplane/executor"
	"github.com/armadaproject/runplane/internal/runplane/executor/docker"
	"github.com/armadaproject/runplane/internal/runplane/executor/kubernetes"
	"github.com/armadaproject/runplane/internal/runplane/gc"
	"github.com/armadaproject/runplane/internal/runplane/metrics"
	"github.com/armadaproject/runplane/internal/runplane/pool"
	"github.com/armadaproject/runplane/internal/runplane/reconcile"
	"github.com/armadaproject/runplane/internal/runplane/reporter"
	"github.com/armadaproject/runplane/internal/runplane/repository"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

const (
	dataLoaderAttempts = 3
	dataLoaderDelay    = time.Second
	shutdownTimeout    = 5 * time.Second
)

// Services are the parts of a running control plane callers interact with.
type Services struct {
	Controller *dispatch.Controller
	Pools      *pool.Registry
	Cache      *task.Cache
	Repository repository.TaskRepository
}

// Run starts the control plane and blocks until SIGINT or SIGTERM.
func Run(config configuration.RunplaneConfiguration) error {
	ctx := app.CreateContextWithShutdown()
	_, shutdown, err := StartUp(ctx, config, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	<-ctx.Done()
	shutdown()
	return nil
}

// StartUp wires every component, recovers persisted tasks and starts the background loops.
// The returned function stops everything that was started.
func StartUp(ctx context.Context, config configuration.RunplaneConfiguration, registerer prometheus.Registerer) (*Services, func(), error) {
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	m := metrics.NewMetrics(registerer)

	repo, closeRepo, err := createRepository(config.Redis)
	if err != nil {
		return nil, nil, err
	}

	backends := executor.NewBackendRegistry()
	backends.Register(executor.Docker, docker.NewFactory())
	backends.Register(executor.Kubernetes, kubernetes.NewFactory())
	pools, err := pool.FromConfiguration(config.Pools, backends, repo)
	if err != nil {
		closeRepo()
		return nil, nil, err
	}

	logCapture, err := createLogCapture(config.Logs, pools)
	if err != nil {
		closeRepo()
		return nil, nil, err
	}

	realClock := clock.RealClock{}
	cache := task.NewCache()
	factory := task.NewFactory()
	dispatcher := dispatch.NewDispatcher(pools, cache, m)
	factory.Register(dispatch.NewPersistenceWatcher(repo), dispatch.PersistenceOrder)
	factory.Register(dispatch.NewSchedulerWatcher(pools, dispatcher), dispatch.SchedulerOrder)
	factory.RegisterUnordered(metrics.NewWatcher(m))

	controller := dispatch.NewController(cache, factory, repo, pools, logCapture, dispatcher, realClock, config.Scheduling.DefaultBackoffLimit)

	collector := gc.NewDelayedGc(config.Gc, pools, realClock, m)
	collector.OnRemoved(controller.Prune)

	chain := reconcile.NewChain()
	chain.Register(reconcile.NewStatusListener(cache, repo, pools, m), reconcile.StatusPriority)
	chain.Register(reconcile.NewDeviceListener(pools, dispatcher), reconcile.DevicePriority)
	chain.Register(reconcile.NewDatasetListener(
		collaborator.NewRetryingDataLoader(collaborator.LoggingDataLoader{}, dataLoaderAttempts, dataLoaderDelay)),
		reconcile.DatasetPriority)
	chain.Register(reconcile.NewGcListener(logCapture, collector, realClock), reconcile.GcPriority)

	runReporter := reporter.NewReporter(pools, chain, realClock, config.Reporter.Interval, m)

	if err := registerer.Register(metrics.NewStateCollector(pools, cache)); err != nil {
		closeRepo()
		return nil, nil, errors.WithStack(err)
	}

	if _, err := controller.Recover(ctx); err != nil {
		log.Errorf("Task recovery was incomplete: %v", err)
	}

	taskManager := commontask.NewBackgroundTaskManager(metrics.MetricPrefix, registerer)
	taskManager.RegisterWithDelay(runReporter.Report, config.Reporter.InitialDelay, config.Reporter.Interval, "reporter")
	taskManager.Register(collector.Sweep, config.Gc.SweepInterval, "gc_sweep")

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(dispatchCtx, config.Scheduling.Interval)
	}()

	shutdownHttp := common.ServeMetricsAndHealth(config.MetricsPort, health.NewCheckHttpHandler(health.NewMultiChecker(runReporter)))

	log.Infof("Runplane started with %d pool(s)", len(pools.Pools()))

	services := &Services{
		Controller: controller,
		Pools:      pools,
		Cache:      cache,
		Repository: repo,
	}
	return services, func() {
		stopDispatch()
		if taskManager.StopAll(shutdownTimeout) {
			log.Warnf("Graceful shutdown timed out")
		}
		wg.Wait()
		shutdownHttp()
		closeRepo()
		log.Infof("Shutdown complete")
	}, nil
}

func createRepository(config configuration.RedisConfiguration) (repository.TaskRepository, func(), error) {
	if config.Addr == "" {
		log.Info("No redis configured, tasks are kept in memory only")
		return repository.NewInMemoryTaskRepository(), func() {}, nil
	}

	db := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{config.Addr},
		Password: config.Password,
		DB:       config.DB,
	})
	if err := db.Ping().Err(); err != nil {
		return nil, nil, errors.Wrapf(err, "connecting to redis at %s", config.Addr)
	}
	return repository.NewRedisTaskRepository(db), func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Error("failed to close redis client")
		}
	}, nil
}

func createLogCapture(config configuration.LogConfiguration, executors executor.Lookup) (collaborator.LogCapture, error) {
	if config.Dir == "" {
		return collaborator.DiscardLogCapture{}, nil
	}
	store, err := collaborator.NewFileLogStore(config.Dir)
	if err != nil {
		return nil, err
	}
	return collaborator.NewExecutorLogCapture(executors, store), nil
}

// DescribePools resolves the configured pools without starting anything.
func DescribePools(config configuration.RunplaneConfiguration) ([]string, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	descriptions := make([]string, 0, len(config.Pools))
	for _, p := range config.Pools {
		client := docker.ClientKey(p.Docker)
		if executor.Kind(p.Backend) == executor.Kubernetes {
			client = kubernetes.ClientKey(p.Kubernetes)
		}
		descriptions = append(descriptions, fmt.Sprintf("%s -> %s %s", p.Name, client, formatDevices(p.Devices)))
	}
	return descriptions, nil
}

func formatDevices(devices map[task.DeviceClass]int) string {
	classes := maps.Keys(devices)
	slices.Sort(classes)
	parts := make([]string, 0, len(classes))
	for _, class := range classes {
		parts = append(parts, fmt.Sprintf("%s=%d", class, devices[class]))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
