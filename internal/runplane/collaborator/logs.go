package collaborator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/runplane/internal/runplane/executor"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

// LogCapture saves the output of a run's unit before the unit is removed.
type LogCapture interface {
	SaveLog(ctx context.Context, run task.RunView) error
}

type LogStore interface {
	Save(taskId string, runId string, content io.Reader) error
	Open(taskId string, runId string) (io.ReadCloser, error)
}

// FileLogStore writes one file per run under <dir>/<taskId>/<runId>.log.
type FileLogStore struct {
	dir string
}

func NewFileLogStore(dir string) (*FileLogStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WithStack(err)
	}
	return &FileLogStore{dir: dir}, nil
}

func (s *FileLogStore) path(taskId string, runId string) (string, error) {
	for _, part := range []string{taskId, runId} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", errors.Errorf("invalid log path component %q", part)
		}
	}
	return filepath.Join(s.dir, taskId, runId+".log"), nil
}

func (s *FileLogStore) Save(taskId string, runId string, content io.Reader) error {
	path, err := s.path(taskId, runId)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	temporary := path + ".tmp"
	file, err := os.Create(temporary)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.Copy(file, content); err != nil {
		file.Close()
		os.Remove(temporary)
		return errors.WithStack(err)
	}
	if err := file.Close(); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(temporary, path))
}

func (s *FileLogStore) Open(taskId string, runId string) (io.ReadCloser, error) {
	path, err := s.path(taskId, runId)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return file, nil
}

type ExecutorLogCapture struct {
	executors executor.Lookup
	store     LogStore
}

func NewExecutorLogCapture(executors executor.Lookup, store LogStore) *ExecutorLogCapture {
	return &ExecutorLogCapture{executors: executors, store: store}
}

func (c *ExecutorLogCapture) SaveLog(ctx context.Context, run task.RunView) error {
	runExecutor, err := c.executors.ExecutorFor(run.Pool())
	if err != nil {
		return err
	}
	content, err := runExecutor.Logs(ctx, run)
	if executor.IsUnitNotFound(err) {
		log.Debugf("Unit %s of run %s is gone, no logs to save", run.UnitName(), run.Id())
		return nil
	}
	if err != nil {
		return errors.WithMessagef(err, "reading logs of run %s", run.Id())
	}
	defer content.Close()
	return c.store.Save(run.TaskId(), run.Id(), content)
}

// DiscardLogCapture is used when no log directory is configured.
type DiscardLogCapture struct{}

func (DiscardLogCapture) SaveLog(_ context.Context, _ task.RunView) error {
	return nil
}
