package collaborator

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/runplane/internal/runplane/executor"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

type flakyDataLoader struct {
	failures int
	calls    int
}

func (l *flakyDataLoader) ResetUnProcessed(_ context.Context, _ string) error {
	l.calls++
	if l.calls <= l.failures {
		return errors.New("dataset service unavailable")
	}
	return nil
}

func TestRetryingDataLoader_RetriesUntilSuccess(t *testing.T) {
	delegate := &flakyDataLoader{failures: 2}
	loader := NewRetryingDataLoader(delegate, 3, time.Millisecond)

	require.NoError(t, loader.ResetUnProcessed(context.Background(), "t1"))
	assert.Equal(t, 3, delegate.calls)
}

func TestRetryingDataLoader_GivesUp(t *testing.T) {
	delegate := &flakyDataLoader{failures: 5}
	loader := NewRetryingDataLoader(delegate, 2, time.Millisecond)

	assert.Error(t, loader.ResetUnProcessed(context.Background(), "t1"))
	assert.Equal(t, 2, delegate.calls)
}

func TestFileLogStore_SaveAndOpen(t *testing.T) {
	store, err := NewFileLogStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save("t1", "r1", strings.NewReader("epoch 1\n")))
	reader, err := store.Open("t1", "r1")
	require.NoError(t, err)
	defer reader.Close()
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "epoch 1\n", string(content))
}

func TestFileLogStore_RejectsTraversal(t *testing.T) {
	store, err := NewFileLogStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Save("..", "r1", strings.NewReader("")))
	assert.Error(t, store.Save("t1", "../r1", strings.NewReader("")))
}

type fakeExecutor struct {
	executor.RunExecutor
	logs    string
	missing bool
}

func (e *fakeExecutor) Logs(_ context.Context, _ task.RunView) (io.ReadCloser, error) {
	if e.missing {
		return nil, executor.ErrUnitNotFound
	}
	return io.NopCloser(bytes.NewBufferString(e.logs)), nil
}

type fakeLookup struct {
	executor executor.RunExecutor
}

func (l fakeLookup) ExecutorFor(pool string) (executor.RunExecutor, error) {
	if pool != "default" {
		return nil, errors.Errorf("unknown pool %s", pool)
	}
	return l.executor, nil
}

func TestExecutorLogCapture(t *testing.T) {
	store, err := NewFileLogStore(t.TempDir())
	require.NoError(t, err)
	capture := NewExecutorLogCapture(fakeLookup{executor: &fakeExecutor{logs: "loss 0.1\n"}}, store)
	run := task.NewRun("r1", "t1", "default", "runplane-t1-1", 1)

	require.NoError(t, capture.SaveLog(context.Background(), run))

	reader, err := store.Open("t1", "r1")
	require.NoError(t, err)
	defer reader.Close()
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "loss 0.1\n", string(content))
}

func TestExecutorLogCapture_UnitAlreadyGone(t *testing.T) {
	store, err := NewFileLogStore(t.TempDir())
	require.NoError(t, err)
	capture := NewExecutorLogCapture(fakeLookup{executor: &fakeExecutor{missing: true}}, store)

	assert.NoError(t, capture.SaveLog(context.Background(), task.NewRun("r1", "t1", "default", "runplane-t1-1", 1)))
	assert.Error(t, capture.SaveLog(context.Background(), task.NewRun("r2", "t2", "elsewhere", "runplane-t2-1", 1)))
}
