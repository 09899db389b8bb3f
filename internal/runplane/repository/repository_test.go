package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/armadaproject/runplane/internal/runplane/status"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

var baseTime = time.Date(2022, 6, 1, 10, 0, 0, 0, time.UTC)

func withRepositories(t *testing.T, action func(t *testing.T, repo TaskRepository)) {
	t.Run("memory", func(t *testing.T) {
		action(t, NewInMemoryTaskRepository())
	})
	t.Run("redis", func(t *testing.T) {
		db, err := miniredis.Run()
		require.NoError(t, err)
		defer db.Close()

		client := redis.NewClient(&redis.Options{Addr: db.Addr()})
		defer client.Close()
		action(t, NewRedisTaskRepository(client))
	})
}

func newTask(id string) *task.Task {
	return task.NewTask(task.Params{
		Id:           id,
		DeviceClass:  task.GPU,
		Pool:         "default",
		BackoffLimit: 3,
		Spec: task.Spec{
			Image:     "trainer:latest",
			Command:   []string{"python", "train.py"},
			Env:       map[string]string{"EPOCHS": "3"},
			Resources: map[string]resource.Quantity{"memory": resource.MustParse("1Gi")},
		},
	})
}

func TestCreateAndGetTask(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo TaskRepository) {
		ctx := context.Background()
		created := newTask("t1")
		require.NoError(t, repo.CreateTask(ctx, created))

		record, err := repo.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, created.Uuid(), record.Uuid)
		assert.Equal(t, task.GPU, record.DeviceClass)
		assert.Equal(t, "default", record.Pool)
		assert.Equal(t, 3, record.BackoffLimit)
		assert.Equal(t, status.TaskCreated, record.Status)
		assert.Equal(t, "trainer:latest", record.Spec.Image)
		assert.Equal(t, []string{"python", "train.py"}, record.Spec.Command)
		memory := record.Spec.Resources["memory"]
		assert.Equal(t, int64(1024*1024*1024), memory.Value())
		assert.Nil(t, record.CurrentRun)
		assert.Nil(t, record.StartTime)
	})
}

func TestCreateTask_Duplicate(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo TaskRepository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateTask(ctx, newTask("t1")))

		err := repo.CreateTask(ctx, newTask("t1"))

		var alreadyExists *ErrAlreadyExists
		assert.True(t, errors.As(err, &alreadyExists))
	})
}

func TestGetTask_Missing(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo TaskRepository) {
		_, err := repo.GetTask(context.Background(), "missing")

		var notFound *ErrNotFound
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, []string{`task "missing"`}, notFound.ResourceNames)
	})
}

func TestUpdateTaskStatus_ReportsMissingTasks(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo TaskRepository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateTask(ctx, newTask("t1")))
		require.NoError(t, repo.CreateTask(ctx, newTask("t2")))

		err := repo.UpdateTaskStatus(ctx, []string{"t1", "missing", "t2"}, status.TaskCanceled)

		var notFound *ErrNotFound
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, []string{`task "missing"`}, notFound.ResourceNames)
		for _, id := range []string{"t1", "t2"} {
			record, err := repo.GetTask(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, status.TaskCanceled, record.Status)
		}
	})
}

func TestWriteOnceFields(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo TaskRepository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateTask(ctx, newTask("t1")))

		require.NoError(t, repo.UpdateFailedReason(ctx, "t1", "exited with exit code 1"))
		require.NoError(t, repo.UpdateFailedReason(ctx, "t1", "exited with exit code 2"))
		require.NoError(t, repo.UpdateIp(ctx, "t1", "10.0.0.1"))
		require.NoError(t, repo.UpdateIp(ctx, "t1", "10.0.0.2"))
		require.NoError(t, repo.UpdateStartedTimeIfNotSet(ctx, "t1", baseTime))
		require.NoError(t, repo.UpdateStartedTimeIfNotSet(ctx, "t1", baseTime.Add(time.Hour)))
		require.NoError(t, repo.UpdateFinishedTimeIfNotSet(ctx, "t1", baseTime.Add(time.Minute)))
		require.NoError(t, repo.UpdateFinishedTimeIfNotSet(ctx, "t1", baseTime.Add(time.Hour)))
		require.NoError(t, repo.UpdateRetryNum(ctx, "t1", 1))
		require.NoError(t, repo.UpdateRetryNum(ctx, "t1", 2))

		record, err := repo.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "exited with exit code 1", record.FailedReason)
		assert.Equal(t, "10.0.0.1", record.Ip)
		require.NotNil(t, record.StartTime)
		assert.True(t, baseTime.Equal(*record.StartTime))
		require.NotNil(t, record.FinishTime)
		assert.True(t, baseTime.Add(time.Minute).Equal(*record.FinishTime))
		assert.Equal(t, 2, record.RetryNum)
	})
}

func TestFieldUpdatesOnMissingTask(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo TaskRepository) {
		ctx := context.Background()
		assert.Error(t, repo.UpdateRetryNum(ctx, "missing", 1))
		assert.Error(t, repo.UpdateIp(ctx, "missing", "10.0.0.1"))
		assert.Error(t, repo.UpdateStartedTimeIfNotSet(ctx, "missing", baseTime))
	})
}

func TestRuns_LatestIsCurrent(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo TaskRepository) {
		ctx := context.Background()
		require.NoError(t, repo.CreateTask(ctx, newTask("t1")))

		first := task.NewRun("r1", "t1", "default", "runplane-t1-1", 1)
		require.NoError(t, repo.CreateRun(ctx, first))
		first.SetStatus(status.RunFailed)
		first.SetFailedReasonIfNotSet("exited with exit code 1")
		first.SetFinishTimeIfNotSet(baseTime)
		require.NoError(t, repo.UpdateRun(ctx, first))

		second := task.NewRun("r2", "t1", "default", "runplane-t1-2", 2)
		require.NoError(t, repo.CreateRun(ctx, second))

		record, err := repo.GetTask(ctx, "t1")
		require.NoError(t, err)
		require.NotNil(t, record.CurrentRun)
		assert.Equal(t, "r2", record.CurrentRun.Id)
		assert.Equal(t, int64(2), record.CurrentRun.Generation)
		assert.Equal(t, status.RunPending, record.CurrentRun.Status)

		var alreadyExists *ErrAlreadyExists
		assert.True(t, errors.As(repo.CreateRun(ctx, second), &alreadyExists))
	})
}

func TestCreateRun_UnknownTask(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo TaskRepository) {
		err := repo.CreateRun(context.Background(), task.NewRun("r1", "missing", "default", "runplane-missing-1", 1))
		assert.Error(t, err)

		err = repo.UpdateRun(context.Background(), task.NewRun("r9", "missing", "default", "runplane-missing-1", 1))
		assert.Error(t, err)
	})
}

func TestLoadActiveTasks(t *testing.T) {
	withRepositories(t, func(t *testing.T, repo TaskRepository) {
		ctx := context.Background()
		for _, id := range []string{"t3", "t1", "t2"} {
			require.NoError(t, repo.CreateTask(ctx, newTask(id)))
		}
		require.NoError(t, repo.UpdateTaskStatus(ctx, []string{"t2"}, status.TaskSuccess))
		require.NoError(t, repo.UpdateTaskStatus(ctx, []string{"t3"}, status.TaskRunning))
		run := task.NewRun("r1", "t3", "default", "runplane-t3-1", 1)
		run.SetStatus(status.RunRunning)
		require.NoError(t, repo.CreateRun(ctx, run))

		active, err := repo.LoadActiveTasks(ctx)
		require.NoError(t, err)

		require.Len(t, active, 2)
		assert.Equal(t, "t1", active[0].Id)
		assert.Equal(t, "t3", active[1].Id)
		assert.Equal(t, status.RunRunning, active[1].CurrentRun.Status)
	})
}

func TestRestore(t *testing.T) {
	started := baseTime
	record := &TaskRecord{
		Id:           "t1",
		Uuid:         "5c0f0d6e-9c1b-4d4a-9b1e-3f4a2b1c0d9e",
		DeviceClass:  task.CPU,
		Pool:         "default",
		BackoffLimit: 2,
		Status:       status.TaskRunning,
		RetryNum:     1,
		Ip:           "10.0.0.1",
		StartTime:    &started,
		CurrentRun: &RunRecord{
			Id:         "r2",
			TaskId:     "t1",
			Pool:       "default",
			UnitName:   "runplane-t1-2",
			Generation: 2,
			Status:     status.RunRunning,
		},
	}

	restored := record.Restore()

	assert.Equal(t, status.TaskRunning, restored.Status())
	assert.Equal(t, 1, restored.RetryNum())
	assert.Equal(t, "10.0.0.1", restored.Ip())
	assert.Equal(t, record.Uuid, restored.Uuid())
	require.NotNil(t, restored.CurrentRun())
	assert.Equal(t, "r2", restored.CurrentRun().Id())
	assert.Equal(t, status.RunRunning, restored.CurrentRun().Status())
	assert.Equal(t, int64(3), restored.NextGeneration())
}

func TestInMemoryTaskRepository_ReturnsCopies(t *testing.T) {
	repo := NewInMemoryTaskRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateTask(ctx, newTask("t1")))
	require.NoError(t, repo.UpdateStartedTimeIfNotSet(ctx, "t1", baseTime))
	require.NoError(t, repo.CreateRun(ctx, task.NewRun("r1", "t1", "default", "runplane-t1-1", 1)))

	record, err := repo.GetTask(ctx, "t1")
	require.NoError(t, err)
	record.Status = status.TaskFail
	*record.StartTime = baseTime.Add(time.Hour)
	record.CurrentRun.Status = status.RunFailed

	stored, err := repo.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, status.TaskCreated, stored.Status)
	assert.Equal(t, baseTime, *stored.StartTime)
	assert.Equal(t, status.RunPending, stored.CurrentRun.Status)
}
