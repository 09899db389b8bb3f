// Package reporter polls every resource pool's backend for the units runplane manages and
// turns what it sees into run reports for the reconciliation chain.
package reporter

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/armadaproject/runplane/internal/runplane/executor"
	"github.com/armadaproject/runplane/internal/runplane/explainer"
	"github.com/armadaproject/runplane/internal/runplane/metrics"
	"github.com/armadaproject/runplane/internal/runplane/pool"
	"github.com/armadaproject/runplane/internal/runplane/status"
)

// ReportedRun is one observation of one unit during one poll.
type ReportedRun struct {
	TaskId     string
	RunId      string
	Pool       string
	UnitName   string
	Status     status.RunStatus
	TaskStatus status.TaskStatus
	Ip         string
	// Nil when the backend does not know yet.
	StartTimeMillis *int64
	// Only set for terminal statuses, to the time of the poll that first saw them.
	StopTimeMillis *int64
	FailedReason   string
	// Nil when the unit carries no valid generation label.
	Generation *int64
	RetryCount *int64
}

func (r ReportedRun) String() string {
	return fmt.Sprintf("run %s of task %s in pool %s is %s", r.RunId, r.TaskId, r.Pool, r.Status)
}

// BatchHandler receives the reports of one pool from one poll in a single call.
type BatchHandler interface {
	Handle(ctx context.Context, batch []ReportedRun)
}

type Reporter struct {
	pools        pool.Provider
	handler      BatchHandler
	clock        clock.Clock
	pollTimeout  time.Duration
	staleAfter   time.Duration
	metrics      *metrics.Metrics
	mu           sync.Mutex
	lastComplete time.Time
}

func NewReporter(pools pool.Provider, handler BatchHandler, clock clock.Clock, interval time.Duration, m *metrics.Metrics) *Reporter {
	return &Reporter{
		pools:       pools,
		handler:     handler,
		clock:       clock,
		pollTimeout: interval,
		staleAfter:  3 * interval,
		metrics:     m,
	}
}

// Report polls every distinct backend client once. A failing client is logged and skipped.
func (r *Reporter) Report() {
	ctx, cancel := context.WithTimeout(context.Background(), r.pollTimeout)
	defer cancel()
	r.ReportWithContext(ctx)
}

func (r *Reporter) ReportWithContext(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for clientKey, pools := range groupByClient(r.pools.Pools()) {
		clientKey, pools := clientKey, pools
		g.Go(func() error {
			r.reportClient(ctx, clientKey, pools)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	r.lastComplete = r.clock.Now()
	r.mu.Unlock()
}

func groupByClient(pools []*pool.Pool) map[string][]*pool.Pool {
	groups := map[string][]*pool.Pool{}
	for _, p := range pools {
		key := p.Executor.ClientKey()
		groups[key] = append(groups[key], p)
	}
	return groups
}

func (r *Reporter) reportClient(ctx context.Context, clientKey string, pools []*pool.Pool) {
	names := make([]string, 0, len(pools))
	for _, p := range pools {
		names = append(names, p.Name)
	}
	runExecutor := pools[0].Executor

	units, err := runExecutor.ListActive(ctx, names...)
	r.metrics.RecordPoll(clientKey, err)
	if err != nil {
		log.WithField("client", clientKey).Errorf("Failed to list units of pools %v: %v", names, err)
		return
	}
	classifier, err := explainer.ForKind(runExecutor.Kind())
	if err != nil {
		log.WithField("client", clientKey).Error(err)
		return
	}

	batches := make(map[string][]ReportedRun, len(names))
	now := r.clock.Now()
	for _, unit := range units {
		report, ok := toReport(unit, classifier, now)
		if !ok {
			continue
		}
		batches[report.Pool] = append(batches[report.Pool], report)
	}
	for _, name := range names {
		batch := batches[name]
		for _, report := range batch {
			r.metrics.RecordReportedRun(name, report.Status)
		}
		if len(batch) > 0 {
			r.handler.Handle(ctx, batch)
		}
	}
}

func toReport(unit executor.BackendUnit, classifier explainer.StatusExplainer, now time.Time) (ReportedRun, bool) {
	if !unit.IsManaged() {
		log.Warnf("Ignoring unit %s without task or run labels", unit.Name)
		return ReportedRun{}, false
	}
	explanation := classifier.Classify(unit)
	report := ReportedRun{
		TaskId:       unit.TaskId(),
		RunId:        unit.RunId(),
		Pool:         unit.Pool(),
		UnitName:     unit.Name,
		Status:       explanation.RunStatus,
		TaskStatus:   explanation.TaskStatus,
		Ip:           unit.Ip,
		FailedReason: explanation.FailedReason,
	}
	if !unit.StartedAt.IsZero() {
		report.StartTimeMillis = millis(unit.StartedAt)
	}
	if status.IsFinalRun(explanation.RunStatus) {
		report.StopTimeMillis = millis(now)
	}

	generation, present, err := unit.Generation()
	if err != nil {
		log.Warnf("Unit %s: %v", unit.Name, err)
	} else if present {
		report.Generation = &generation
	}
	retryCount, present, err := unit.RetryNum()
	if err != nil {
		log.Warnf("Unit %s: %v", unit.Name, err)
	} else if present {
		report.RetryCount = &retryCount
	}
	return report, true
}

func millis(t time.Time) *int64 {
	value := t.UnixMilli()
	return &value
}

// Check fails when no poll completed within three poll intervals.
func (r *Reporter) Check() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastComplete.IsZero() {
		return nil
	}
	if since := r.clock.Since(r.lastComplete); since > r.staleAfter {
		return fmt.Errorf("no backend poll completed for %s", since.Round(time.Second))
	}
	return nil
}
