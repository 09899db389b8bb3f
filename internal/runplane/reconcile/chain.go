// Package reconcile applies run reports to the hot task cache through an ordered chain of
// listeners. Applying the same report twice has no further effect.
package reconcile

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/runplane/internal/runplane/reporter"
	"github.com/armadaproject/runplane/internal/runplane/status"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

// Outcome carries one report through the chain. The status listener fills in what the
// report changed, later listeners only act on changed runs.
type Outcome struct {
	Report reporter.ReportedRun
	Task   *task.WatchableTask
	Run    *task.Run
	// Set when this report moved the current run to a new status.
	RunChanged        bool
	PreviousRunStatus status.RunStatus
	Retried           bool
}

// Terminated is true when this report moved the current run into a terminal status.
func (o *Outcome) Terminated() bool {
	return o.RunChanged && status.IsFinalRun(o.Report.Status)
}

type Listener interface {
	Name() string
	OnReportedRun(ctx context.Context, outcome *Outcome)
}

type registeredListener struct {
	listener Listener
	priority int
	seq      int
}

type Chain struct {
	mu        sync.RWMutex
	listeners []registeredListener
}

func NewChain() *Chain {
	return &Chain{}
}

// Register adds a listener. Lower priorities run first, equal priorities in registration order.
func (c *Chain) Register(listener Listener, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, registeredListener{listener: listener, priority: priority, seq: len(c.listeners)})
	slices.SortFunc(c.listeners, func(a, b registeredListener) bool {
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.seq < b.seq
	})
}

// Handle gives every report to every listener in order.
func (c *Chain) Handle(ctx context.Context, batch []reporter.ReportedRun) {
	c.mu.RLock()
	listeners := make([]registeredListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, report := range batch {
		outcome := &Outcome{Report: report}
		for _, l := range listeners {
			invoke(ctx, l.listener, outcome)
		}
	}
}

func invoke(ctx context.Context, listener Listener, outcome *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Listener %s panicked handling %s: %v", listener.Name(), outcome.Report, r)
		}
	}()
	listener.OnReportedRun(ctx, outcome)
}
