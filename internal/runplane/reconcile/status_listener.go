package reconcile

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/runplane/internal/runplane/metrics"
	"github.com/armadaproject/runplane/internal/runplane/reporter"
	"github.com/armadaproject/runplane/internal/runplane/repository"
	"github.com/armadaproject/runplane/internal/runplane/status"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

// StatusListener moves the current run and its task to the status a report implies,
// retrying failed runs while the task has retries left.
type StatusListener struct {
	cache   *task.Cache
	repo    repository.TaskRepository
	slots   SlotReleaser
	metrics *metrics.Metrics
}

func NewStatusListener(cache *task.Cache, repo repository.TaskRepository, slots SlotReleaser, m *metrics.Metrics) *StatusListener {
	return &StatusListener{cache: cache, repo: repo, slots: slots, metrics: m}
}

func (l *StatusListener) Name() string {
	return "status"
}

func (l *StatusListener) OnReportedRun(ctx context.Context, outcome *Outcome) {
	report := outcome.Report
	logger := log.WithField("taskId", report.TaskId).WithField("runId", report.RunId)

	watchable, present := l.cache.Get(report.TaskId)
	if !present {
		logger.Debug("Ignoring report for task that is not cached")
		return
	}
	run := watchable.Task().MutableCurrentRun()
	if run == nil || run.Id() != report.RunId || (report.Generation != nil && *report.Generation != run.Generation()) {
		logger.Info("Ignoring report for run that is no longer current")
		l.metrics.RecordStaleReport()
		return
	}
	outcome.Task = watchable
	outcome.Run = run

	if report.Status == status.RunUnknown {
		logger.Warnf("Unit %s is in an unknown state, leaving run at %s", report.UnitName, run.Status())
		return
	}
	current := run.Status()
	if current == report.Status {
		return
	}
	if !status.CouldTransferRun(current, report.Status) {
		logger.Warnf("Ignoring report moving run from %s to %s", current, report.Status)
		return
	}

	updateRunFields(run, report)
	outcome.PreviousRunStatus = run.SetStatus(report.Status)
	outcome.RunChanged = true
	if err := l.repo.UpdateRun(ctx, run); err != nil {
		logger.Errorf("Failed to persist run: %v", err)
	}

	t := watchable.Task()
	l.updateTaskFields(ctx, t, report)
	outcome.Retried = l.transition(ctx, watchable, report)

	if status.IsFinal(watchable.Status()) && report.StopTimeMillis != nil {
		finishTime := fromMillis(*report.StopTimeMillis)
		if t.SetFinishTimeIfNotSet(finishTime) {
			l.logFailure(t.Id(), "finish time", l.repo.UpdateFinishedTimeIfNotSet(ctx, t.Id(), finishTime))
		}
	}
}

func updateRunFields(run *task.Run, report reporter.ReportedRun) {
	run.SetIpIfNotSet(report.Ip)
	run.SetFailedReasonIfNotSet(report.FailedReason)
	if report.StartTimeMillis != nil {
		run.SetStartTimeIfNotSet(fromMillis(*report.StartTimeMillis))
	}
	if report.StopTimeMillis != nil {
		run.SetFinishTimeIfNotSet(fromMillis(*report.StopTimeMillis))
	}
}

// updateTaskFields copies write-once fields the task does not have yet and persists them.
func (l *StatusListener) updateTaskFields(ctx context.Context, t *task.Task, report reporter.ReportedRun) {
	if t.SetFailedReasonIfNotSet(report.FailedReason) {
		l.logFailure(t.Id(), "failed reason", l.repo.UpdateFailedReason(ctx, t.Id(), report.FailedReason))
	}
	if t.SetIpIfNotSet(report.Ip) {
		l.logFailure(t.Id(), "ip", l.repo.UpdateIp(ctx, t.Id(), report.Ip))
	}
	if report.StartTimeMillis != nil {
		startTime := fromMillis(*report.StartTimeMillis)
		if t.SetStartTimeIfNotSet(startTime) {
			l.logFailure(t.Id(), "start time", l.repo.UpdateStartedTimeIfNotSet(ctx, t.Id(), startTime))
		}
	}
}

// transition moves the task to the status the run implies. Returns true if the task was retried.
func (l *StatusListener) transition(ctx context.Context, watchable *task.WatchableTask, report reporter.ReportedRun) bool {
	current := watchable.Status()

	if status.IsCancelling(current) {
		if status.IsFinalRun(report.Status) {
			watchable.UpdateStatus(status.TaskCanceled, nil)
		}
		return false
	}

	// Every failure counts against the backoff limit, the failure that reaches it is final.
	if report.Status == status.RunFailed && status.CouldTransfer(current, status.TaskRetrying) {
		if retryNum, ok := watchable.Task().IncrementRetryNum(); ok {
			l.logFailure(watchable.Id(), "retry number", l.repo.UpdateRetryNum(ctx, watchable.Id(), retryNum))
			if retryNum < watchable.BackoffLimit() {
				log.WithField("taskId", watchable.Id()).Infof("Run %s failed (%d/%d), retrying", report.RunId, retryNum, watchable.BackoffLimit())
				watchable.UpdateStatus(status.TaskRetrying, nil)
				// The failed run's slot must be free before READY queues the task again.
				l.slots.Release(report.Pool, watchable.Id())
				watchable.UpdateStatus(status.TaskReady, nil)
				l.metrics.RecordRetry()
				return true
			}
		}
	}

	target, ok := status.TaskStatusForRun(report.Status)
	if !ok || target == current {
		return false
	}
	watchable.UpdateStatus(target, nil)
	return false
}

func (l *StatusListener) logFailure(taskId string, field string, err error) {
	if err != nil {
		log.WithField("taskId", taskId).Errorf("Failed to persist %s: %v", field, err)
	}
}

func fromMillis(millis int64) time.Time {
	return time.UnixMilli(millis).UTC()
}
