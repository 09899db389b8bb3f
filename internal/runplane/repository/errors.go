package repository

import (
	"fmt"
	"strings"
)

// ErrNotFound is returned whenever one or more tasks or runs do not exist.
// Resource names carry their type, e.g. `task "t1"`.
type ErrNotFound struct {
	ResourceNames []string
}

func (err *ErrNotFound) Error() string {
	if len(err.ResourceNames) == 1 {
		return fmt.Sprintf("could not find %s", err.ResourceNames[0])
	}
	return fmt.Sprintf("could not find any of [%s]", strings.Join(err.ResourceNames, ", "))
}

type ErrAlreadyExists struct {
	ResourceName string
}

func (err *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s already exists", err.ResourceName)
}

func taskResource(id string) string {
	return fmt.Sprintf("task %q", id)
}

func runResource(id string) string {
	return fmt.Sprintf("run %q", id)
}

func notFound(resources []string) error {
	if len(resources) == 0 {
		return nil
	}
	return &ErrNotFound{ResourceNames: resources}
}
