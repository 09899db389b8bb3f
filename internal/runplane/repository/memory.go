package repository

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/runplane/internal/runplane/status"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

const (
	tasksTable = "tasks"
	runsTable  = "runs"

	idIndex     = "id"
	statusIndex = "status"
	taskIdIndex = "taskId"
)

// InMemoryTaskRepository keeps tasks for the lifetime of the process only. It is built on
// go-memdb; stored records are never mutated, updates insert a modified copy.
type InMemoryTaskRepository struct {
	db *memdb.MemDB
}

func NewInMemoryTaskRepository() *InMemoryTaskRepository {
	db, err := memdb.NewMemDB(taskDbSchema())
	if err != nil {
		// Only possible for an invalid schema.
		panic(err)
	}
	return &InMemoryTaskRepository{db: db}
}

func (r *InMemoryTaskRepository) CreateTask(_ context.Context, t task.View) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(tasksTable, idIndex, t.Id())
	if err != nil {
		return errors.WithStack(err)
	}
	if existing != nil {
		return &ErrAlreadyExists{ResourceName: taskResource(t.Id())}
	}
	if err := txn.Insert(tasksTable, recordOfTask(t)); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (r *InMemoryTaskRepository) GetTask(_ context.Context, id string) (*TaskRecord, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	record, err := getTask(txn, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, notFound([]string{taskResource(id)})
	}
	return snapshot(txn, record)
}

func (r *InMemoryTaskRepository) LoadActiveTasks(_ context.Context) ([]*TaskRecord, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	var result []*TaskRecord
	for _, s := range status.AllTaskStatuses() {
		if status.IsFinal(s) {
			continue
		}
		it, err := txn.Get(tasksTable, statusIndex, string(s))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			record, err := snapshot(txn, obj.(*TaskRecord))
			if err != nil {
				return nil, err
			}
			result = append(result, record)
		}
	}
	slices.SortFunc(result, func(a, b *TaskRecord) bool {
		return a.Id < b.Id
	})
	return result, nil
}

func (r *InMemoryTaskRepository) UpdateTaskStatus(_ context.Context, ids []string, s status.TaskStatus) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	var missing []string
	for _, id := range ids {
		record, err := getTask(txn, id)
		if err != nil {
			return err
		}
		if record == nil {
			missing = append(missing, taskResource(id))
			continue
		}
		updated := *record
		updated.Status = s
		if err := txn.Insert(tasksTable, &updated); err != nil {
			return errors.WithStack(err)
		}
	}
	txn.Commit()
	return notFound(missing)
}

func (r *InMemoryTaskRepository) UpdateRetryNum(_ context.Context, id string, retryNum int) error {
	return r.update(id, func(record *TaskRecord) {
		record.RetryNum = retryNum
	})
}

func (r *InMemoryTaskRepository) UpdateFailedReason(_ context.Context, id string, reason string) error {
	return r.update(id, func(record *TaskRecord) {
		if record.FailedReason == "" {
			record.FailedReason = reason
		}
	})
}

func (r *InMemoryTaskRepository) UpdateStartedTimeIfNotSet(_ context.Context, id string, startTime time.Time) error {
	return r.update(id, func(record *TaskRecord) {
		if record.StartTime == nil {
			record.StartTime = &startTime
		}
	})
}

func (r *InMemoryTaskRepository) UpdateFinishedTimeIfNotSet(_ context.Context, id string, finishTime time.Time) error {
	return r.update(id, func(record *TaskRecord) {
		if record.FinishTime == nil {
			record.FinishTime = &finishTime
		}
	})
}

func (r *InMemoryTaskRepository) UpdateIp(_ context.Context, id string, ip string) error {
	return r.update(id, func(record *TaskRecord) {
		if record.Ip == "" {
			record.Ip = ip
		}
	})
}

func (r *InMemoryTaskRepository) update(id string, apply func(record *TaskRecord)) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	record, err := getTask(txn, id)
	if err != nil {
		return err
	}
	if record == nil {
		return notFound([]string{taskResource(id)})
	}
	updated := *record
	apply(&updated)
	if err := txn.Insert(tasksTable, &updated); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (r *InMemoryTaskRepository) CreateRun(_ context.Context, run task.RunView) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	owner, err := getTask(txn, run.TaskId())
	if err != nil {
		return err
	}
	if owner == nil {
		return notFound([]string{taskResource(run.TaskId())})
	}
	existing, err := txn.First(runsTable, idIndex, run.Id())
	if err != nil {
		return errors.WithStack(err)
	}
	if existing != nil {
		return &ErrAlreadyExists{ResourceName: runResource(run.Id())}
	}
	if err := txn.Insert(runsTable, recordOfRun(run)); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (r *InMemoryTaskRepository) UpdateRun(_ context.Context, run task.RunView) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(runsTable, idIndex, run.Id())
	if err != nil {
		return errors.WithStack(err)
	}
	if existing == nil {
		return notFound([]string{runResource(run.Id())})
	}
	if err := txn.Insert(runsTable, recordOfRun(run)); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func getTask(txn *memdb.Txn, id string) (*TaskRecord, error) {
	obj, err := txn.First(tasksTable, idIndex, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*TaskRecord), nil
}

// snapshot copies a stored record and attaches the run with the highest generation.
func snapshot(txn *memdb.Txn, record *TaskRecord) (*TaskRecord, error) {
	c := *record
	c.StartTime = copyTime(record.StartTime)
	c.FinishTime = copyTime(record.FinishTime)

	it, err := txn.Get(runsTable, taskIdIndex, record.Id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var current *RunRecord
	for obj := it.Next(); obj != nil; obj = it.Next() {
		run := obj.(*RunRecord)
		if current == nil || run.Generation > current.Generation {
			current = run
		}
	}
	if current != nil {
		run := *current
		c.CurrentRun = &run
	}
	return &c, nil
}

func taskDbSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tasksTable: {
				Name: tasksTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Id"},
					},
					statusIndex: {
						Name:    statusIndex, // lookup of active tasks on recovery
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "Status"},
					},
				},
			},
			runsTable: {
				Name: runsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Id"},
					},
					taskIdIndex: {
						Name:    taskIdIndex,
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "TaskId"},
					},
				},
			},
		},
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
