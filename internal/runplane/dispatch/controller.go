package dispatch

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/runplane/internal/runplane/collaborator"
	"github.com/armadaproject/runplane/internal/runplane/pool"
	"github.com/armadaproject/runplane/internal/runplane/repository"
	"github.com/armadaproject/runplane/internal/runplane/status"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

// Submission is a task handed over by job decomposition.
type Submission struct {
	Id          string
	Uuid        string
	DeviceClass task.DeviceClass
	Pool        string
	// Nil or negative falls back to the configured default.
	BackoffLimit *int
	Spec         task.Spec
}

// Controller owns the hot task cache: it is the only place tasks enter or leave it.
type Controller struct {
	cache               *task.Cache
	factory             *task.Factory
	repo                repository.TaskRepository
	pools               pool.Provider
	logs                collaborator.LogCapture
	notifier            Notifier
	clock               clock.Clock
	defaultBackoffLimit int
}

func NewController(
	cache *task.Cache,
	factory *task.Factory,
	repo repository.TaskRepository,
	pools pool.Provider,
	logs collaborator.LogCapture,
	notifier Notifier,
	clock clock.Clock,
	defaultBackoffLimit int,
) *Controller {
	return &Controller{
		cache:               cache,
		factory:             factory,
		repo:                repo,
		pools:               pools,
		logs:                logs,
		notifier:            notifier,
		clock:               clock,
		defaultBackoffLimit: defaultBackoffLimit,
	}
}

// Submit registers new tasks and makes them READY. Invalid submissions are skipped and
// reported in the returned error, the others are still submitted.
func (c *Controller) Submit(ctx context.Context, submissions ...Submission) error {
	var result *multierror.Error
	for _, submission := range submissions {
		if err := c.submit(ctx, submission); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (c *Controller) submit(ctx context.Context, submission Submission) error {
	if submission.Id == "" {
		return errors.New("task id must not be empty")
	}
	if _, present := c.cache.Get(submission.Id); present {
		return errors.Errorf("task %s is already active", submission.Id)
	}
	p, err := c.pools.Get(submission.Pool)
	if err != nil {
		return errors.WithMessagef(err, "task %s", submission.Id)
	}
	if p.Devices.Capacity(submission.DeviceClass) <= 0 {
		return errors.Errorf("task %s needs a %s device but pool %s has none", submission.Id, submission.DeviceClass, p.Name)
	}

	watchable := c.factory.Wrap(task.NewTask(task.Params{
		Id:           submission.Id,
		Uuid:         submission.Uuid,
		DeviceClass:  submission.DeviceClass,
		Pool:         submission.Pool,
		BackoffLimit: task.ResolveBackoffLimit(submission.BackoffLimit, c.defaultBackoffLimit),
		Spec:         submission.Spec,
	}))
	if err := c.repo.CreateTask(ctx, watchable); err != nil {
		return errors.WithMessagef(err, "creating task %s", submission.Id)
	}
	c.cache.Put(watchable)
	watchable.UpdateStatus(status.TaskReady, nil)
	log.WithField("taskId", watchable.Id()).Infof("Submitted task to pool %s", watchable.Pool())
	return nil
}

func (c *Controller) Cancel(ctx context.Context, taskId string) error {
	return c.CancelAll(ctx, []string{taskId})
}

// CancelAll stops the given tasks. Queued tasks are withdrawn, dispatched tasks have their unit
// removed and their device slot released. Canceled tasks are persisted in one write and leave the
// cache. A task whose unit could not be removed stays CANCELLING and can be canceled again.
func (c *Controller) CancelAll(ctx context.Context, taskIds []string) error {
	var result *multierror.Error
	suppressed := task.Suppress(PersistenceWatcherId)

	var canceled []string
	for _, taskId := range taskIds {
		watchable, present := c.cache.Get(taskId)
		if !present {
			result = multierror.Append(result, errors.Errorf("task %s is not active", taskId))
			continue
		}
		if status.IsFinal(watchable.Status()) {
			continue
		}
		if err := c.cancel(ctx, watchable, suppressed); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		canceled = append(canceled, taskId)
	}

	if len(canceled) > 0 {
		if err := c.repo.UpdateTaskStatus(ctx, canceled, status.TaskCanceled); err != nil {
			result = multierror.Append(result, errors.WithMessage(err, "persisting canceled tasks"))
		}
		for _, taskId := range canceled {
			c.cache.Remove(taskId)
		}
		log.Infof("Canceled %d task(s)", len(canceled))
	}
	return result.ErrorOrNil()
}

func (c *Controller) cancel(ctx context.Context, watchable *task.WatchableTask, suppressed task.Suppression) error {
	logger := log.WithField("taskId", watchable.Id())
	p, err := c.pools.Get(watchable.Pool())
	if err != nil {
		return errors.WithMessagef(err, "canceling task %s", watchable.Id())
	}

	withdrawn := len(p.Scheduler.Withdraw([]string{watchable.Id()})) > 0
	run := watchable.Task().MutableCurrentRun()
	if withdrawn || run == nil || status.IsFinalRun(run.Status()) {
		if !status.CouldTransfer(watchable.Status(), status.TaskCanceled) {
			watchable.UpdateStatus(status.TaskToCancel, suppressed)
		}
		if !watchable.UpdateStatus(status.TaskCanceled, suppressed) {
			return errors.Errorf("task %s cannot be canceled from %s", watchable.Id(), watchable.Status())
		}
		return nil
	}

	watchable.UpdateStatus(status.TaskToCancel, suppressed)
	watchable.UpdateStatus(status.TaskCancelling, suppressed)

	if err := c.logs.SaveLog(ctx, run); err != nil {
		logger.Warnf("Failed to save logs of run %s: %v", run.Id(), err)
	}
	if err := p.Executor.Remove(ctx, run); err != nil {
		if persistErr := c.repo.UpdateTaskStatus(ctx, []string{watchable.Id()}, watchable.Status()); persistErr != nil {
			logger.Errorf("Failed to persist status %s: %v", watchable.Status(), persistErr)
		}
		return errors.WithMessagef(err, "canceling task %s", watchable.Id())
	}

	run.SetStatus(status.RunCanceled)
	run.SetFinishTimeIfNotSet(c.clock.Now())
	if err := c.repo.UpdateRun(ctx, run); err != nil {
		logger.Errorf("Failed to persist canceled run %s: %v", run.Id(), err)
	}
	if p.Devices.Release(watchable.Id()) && c.notifier != nil {
		c.notifier.Trigger()
	}
	if !watchable.UpdateStatus(status.TaskCanceled, suppressed) {
		return errors.Errorf("task %s cannot be canceled from %s", watchable.Id(), watchable.Status())
	}
	return nil
}

// Recover loads every task that is not final into the cache and puts it back where it was:
// ready tasks are queued, dispatched tasks hold their device slot again and cancellations
// in flight are finished. Returns the number of recovered tasks.
func (c *Controller) Recover(ctx context.Context) (int, error) {
	records, err := c.repo.LoadActiveTasks(ctx)
	if err != nil {
		return 0, errors.WithMessage(err, "loading active tasks")
	}

	var result *multierror.Error
	var toCancel []string
	for _, record := range records {
		watchable := c.factory.Wrap(record.Restore())
		c.cache.Put(watchable)
		if status.IsCancelling(watchable.Status()) {
			toCancel = append(toCancel, watchable.Id())
			continue
		}
		if err := c.restore(watchable); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if len(toCancel) > 0 {
		if err := c.CancelAll(ctx, toCancel); err != nil {
			result = multierror.Append(result, err)
		}
	}
	log.Infof("Recovered %d active task(s)", len(records))
	return len(records), result.ErrorOrNil()
}

func (c *Controller) restore(watchable *task.WatchableTask) error {
	p, err := c.pools.Get(watchable.Pool())
	if err != nil {
		return errors.WithMessagef(err, "recovering task %s", watchable.Id())
	}

	switch watchable.Status() {
	case status.TaskCreated, status.TaskRetrying:
		watchable.UpdateStatus(status.TaskReady, nil)
		return nil
	case status.TaskReady:
		p.Scheduler.Adopt([]task.View{watchable}, watchable.DeviceClass())
		return nil
	}

	run := watchable.Task().MutableCurrentRun()
	// A claim interrupted before its run was recorded.
	if watchable.Status() == status.TaskAssigning && (run == nil || status.IsFinalRun(run.Status())) {
		watchable.UpdateStatus(status.TaskReady, nil)
		return nil
	}
	if run == nil {
		return nil
	}
	if err := p.Devices.Acquire(watchable.DeviceClass(), watchable.Id()); err != nil {
		log.WithField("taskId", watchable.Id()).Warnf("Could not reclaim device slot: %v", err)
	}
	// The terminal report of this run was recorded but never applied to the task. Forgetting
	// the run status lets the next report go through reconciliation again.
	if status.IsFinalRun(run.Status()) {
		run.SetStatus(status.RunUnknown)
	}
	return nil
}

// Prune drops a final task from the cache once the unit of its current run is gone.
func (c *Controller) Prune(run task.RunView) {
	watchable, present := c.cache.Get(run.TaskId())
	if !present || !status.IsFinal(watchable.Status()) {
		return
	}
	if current := watchable.CurrentRun(); current == nil || current.Id() != run.Id() {
		return
	}
	c.cache.Remove(run.TaskId())
	log.WithField("taskId", run.TaskId()).Debug("Pruned task from cache")
}
