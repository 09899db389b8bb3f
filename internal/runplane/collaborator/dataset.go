// Package collaborator holds the outbound dependencies of the reconciliation chain
// that live outside runplane: the dataset loader and the unit log store.
package collaborator

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"
)

// DataLoader owns the data a task consumes. Data handed to a failed run must be offered again.
type DataLoader interface {
	ResetUnProcessed(ctx context.Context, taskId string) error
}

// LoggingDataLoader is used when no dataset service is configured.
type LoggingDataLoader struct{}

func (LoggingDataLoader) ResetUnProcessed(_ context.Context, taskId string) error {
	log.Debugf("No dataset service configured, nothing to reset for task %s", taskId)
	return nil
}

type RetryingDataLoader struct {
	delegate DataLoader
	attempts uint
	delay    time.Duration
}

func NewRetryingDataLoader(delegate DataLoader, attempts uint, delay time.Duration) *RetryingDataLoader {
	return &RetryingDataLoader{delegate: delegate, attempts: attempts, delay: delay}
}

func (l *RetryingDataLoader) ResetUnProcessed(ctx context.Context, taskId string) error {
	return retry.Do(
		func() error {
			return l.delegate.ResetUnProcessed(ctx, taskId)
		},
		retry.Attempts(l.attempts),
		retry.Delay(l.delay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf("Attempt %d to reset unprocessed data of task %s failed: %v", n+1, taskId, err)
		}),
	)
}
