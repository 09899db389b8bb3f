package executor

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrUnitNotFound = errors.New("backend unit not found")

// ErrStartFailure is returned when a run could not be started. Any device slot taken for the
// run has already been given back when it is returned.
type ErrStartFailure struct {
	TaskId string
	Pool   string
	Cause  error
}

func (e *ErrStartFailure) Error() string {
	return fmt.Sprintf("failed to start task %s in pool %s: %s", e.TaskId, e.Pool, e.Cause)
}

func (e *ErrStartFailure) Unwrap() error {
	return e.Cause
}

func IsUnitNotFound(err error) bool {
	return errors.Is(err, ErrUnitNotFound)
}
