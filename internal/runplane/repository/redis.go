package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/runplane/internal/runplane/status"
	"github.com/armadaproject/runplane/internal/runplane/task"
)

const (
	taskObjectPrefix = "Task:"
	taskRunsPrefix   = "Task:Runs:"
	runObjectPrefix  = "Run:"
	taskIndexKey     = "Tasks"
)

const (
	fieldUuid         = "uuid"
	fieldDeviceClass  = "deviceClass"
	fieldPool         = "pool"
	fieldBackoffLimit = "backoffLimit"
	fieldSpec         = "spec"
	fieldStatus       = "status"
	fieldRetryNum     = "retryNum"
	fieldFailedReason = "failedReason"
	fieldIp           = "ip"
	fieldStartTime    = "startTime"
	fieldFinishTime   = "finishTime"
	fieldTaskId       = "taskId"
	fieldUnitName     = "unitName"
	fieldGeneration   = "generation"
)

type RedisTaskRepository struct {
	db redis.UniversalClient
}

func NewRedisTaskRepository(db redis.UniversalClient) *RedisTaskRepository {
	return &RedisTaskRepository{db: db}
}

func (r *RedisTaskRepository) CreateTask(_ context.Context, t task.View) error {
	added, err := r.db.SAdd(taskIndexKey, t.Id()).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	if added == 0 {
		return &ErrAlreadyExists{ResourceName: taskResource(t.Id())}
	}
	spec, err := json.Marshal(t.Spec())
	if err != nil {
		return errors.WithStack(err)
	}
	fields := map[string]interface{}{
		fieldUuid:         t.Uuid(),
		fieldDeviceClass:  string(t.DeviceClass()),
		fieldPool:         t.Pool(),
		fieldBackoffLimit: t.BackoffLimit(),
		fieldSpec:         string(spec),
		fieldStatus:       string(t.Status()),
		fieldRetryNum:     t.RetryNum(),
	}
	setOptional(fields, t.FailedReason(), t.Ip(), t.StartTime(), t.FinishTime())
	return errors.WithStack(r.db.HMSet(taskObjectPrefix+t.Id(), fields).Err())
}

func setOptional(fields map[string]interface{}, failedReason string, ip string, startTime *time.Time, finishTime *time.Time) {
	if failedReason != "" {
		fields[fieldFailedReason] = failedReason
	}
	if ip != "" {
		fields[fieldIp] = ip
	}
	if startTime != nil {
		fields[fieldStartTime] = formatTime(*startTime)
	}
	if finishTime != nil {
		fields[fieldFinishTime] = formatTime(*finishTime)
	}
}

func (r *RedisTaskRepository) GetTask(_ context.Context, id string) (*TaskRecord, error) {
	records, err := r.loadTasks([]string{id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, notFound([]string{taskResource(id)})
	}
	return records[0], nil
}

func (r *RedisTaskRepository) LoadActiveTasks(_ context.Context) ([]*TaskRecord, error) {
	ids, err := r.db.SMembers(taskIndexKey).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	slices.Sort(ids)
	records, err := r.loadTasks(ids)
	if err != nil {
		return nil, err
	}
	active := make([]*TaskRecord, 0, len(records))
	for _, record := range records {
		if !status.IsFinal(record.Status) {
			active = append(active, record)
		}
	}
	return active, nil
}

func (r *RedisTaskRepository) loadTasks(ids []string) ([]*TaskRecord, error) {
	pipe := r.db.Pipeline()
	taskCmds := make([]*redis.StringStringMapCmd, len(ids))
	runCmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		taskCmds[i] = pipe.HGetAll(taskObjectPrefix + id)
		runCmds[i] = pipe.LIndex(taskRunsPrefix+id, -1)
	}
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return nil, errors.WithStack(err)
	}

	records := make([]*TaskRecord, 0, len(ids))
	for i, id := range ids {
		fields := taskCmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		record, err := decodeTask(id, fields)
		if err != nil {
			return nil, err
		}
		if runId := runCmds[i].Val(); runId != "" {
			run, err := r.loadRun(runId)
			if err != nil {
				return nil, err
			}
			record.CurrentRun = run
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *RedisTaskRepository) loadRun(id string) (*RunRecord, error) {
	fields, err := r.db.HGetAll(runObjectPrefix + id).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(fields) == 0 {
		return nil, notFound([]string{runResource(id)})
	}
	return decodeRun(id, fields)
}

func (r *RedisTaskRepository) UpdateTaskStatus(_ context.Context, ids []string, s status.TaskStatus) error {
	existing, missing, err := r.partitionExisting(ids)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		pipe := r.db.TxPipeline()
		for _, id := range existing {
			pipe.HSet(taskObjectPrefix+id, fieldStatus, string(s))
		}
		if _, err := pipe.Exec(); err != nil {
			return errors.WithStack(err)
		}
	}
	return notFound(missing)
}

func (r *RedisTaskRepository) partitionExisting(ids []string) ([]string, []string, error) {
	pipe := r.db.Pipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Exists(taskObjectPrefix + id)
	}
	if _, err := pipe.Exec(); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	var existing, missing []string
	for i, id := range ids {
		if cmds[i].Val() > 0 {
			existing = append(existing, id)
		} else {
			missing = append(missing, taskResource(id))
		}
	}
	return existing, missing, nil
}

func (r *RedisTaskRepository) UpdateRetryNum(_ context.Context, id string, retryNum int) error {
	return r.setField(id, fieldRetryNum, retryNum, false)
}

func (r *RedisTaskRepository) UpdateFailedReason(_ context.Context, id string, reason string) error {
	return r.setField(id, fieldFailedReason, reason, true)
}

func (r *RedisTaskRepository) UpdateStartedTimeIfNotSet(_ context.Context, id string, startTime time.Time) error {
	return r.setField(id, fieldStartTime, formatTime(startTime), true)
}

func (r *RedisTaskRepository) UpdateFinishedTimeIfNotSet(_ context.Context, id string, finishTime time.Time) error {
	return r.setField(id, fieldFinishTime, formatTime(finishTime), true)
}

func (r *RedisTaskRepository) UpdateIp(_ context.Context, id string, ip string) error {
	return r.setField(id, fieldIp, ip, true)
}

func (r *RedisTaskRepository) setField(id string, field string, value interface{}, onlyIfNotSet bool) error {
	key := taskObjectPrefix + id
	exists, err := r.db.Exists(key).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	if exists == 0 {
		return notFound([]string{taskResource(id)})
	}
	if onlyIfNotSet {
		return errors.WithStack(r.db.HSetNX(key, field, value).Err())
	}
	return errors.WithStack(r.db.HSet(key, field, value).Err())
}

func (r *RedisTaskRepository) CreateRun(_ context.Context, run task.RunView) error {
	exists, err := r.db.Exists(taskObjectPrefix + run.TaskId()).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	if exists == 0 {
		return notFound([]string{taskResource(run.TaskId())})
	}
	created, err := r.db.HSetNX(runObjectPrefix+run.Id(), fieldTaskId, run.TaskId()).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	if !created {
		return &ErrAlreadyExists{ResourceName: runResource(run.Id())}
	}
	pipe := r.db.TxPipeline()
	pipe.HMSet(runObjectPrefix+run.Id(), runFields(run))
	pipe.RPush(taskRunsPrefix+run.TaskId(), run.Id())
	_, err = pipe.Exec()
	return errors.WithStack(err)
}

func (r *RedisTaskRepository) UpdateRun(_ context.Context, run task.RunView) error {
	exists, err := r.db.Exists(runObjectPrefix + run.Id()).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	if exists == 0 {
		return notFound([]string{runResource(run.Id())})
	}
	return errors.WithStack(r.db.HMSet(runObjectPrefix+run.Id(), runFields(run)).Err())
}

func runFields(run task.RunView) map[string]interface{} {
	fields := map[string]interface{}{
		fieldTaskId:     run.TaskId(),
		fieldPool:       run.Pool(),
		fieldUnitName:   run.UnitName(),
		fieldGeneration: run.Generation(),
		fieldStatus:     string(run.Status()),
	}
	setOptional(fields, run.FailedReason(), run.Ip(), run.StartTime(), run.FinishTime())
	return fields
}

func decodeTask(id string, fields map[string]string) (*TaskRecord, error) {
	record := &TaskRecord{
		Id:           id,
		Uuid:         fields[fieldUuid],
		DeviceClass:  task.DeviceClass(fields[fieldDeviceClass]),
		Pool:         fields[fieldPool],
		Status:       status.TaskStatus(fields[fieldStatus]),
		FailedReason: fields[fieldFailedReason],
		Ip:           fields[fieldIp],
	}
	var err error
	if record.BackoffLimit, err = strconv.Atoi(fields[fieldBackoffLimit]); err != nil {
		return nil, errors.Wrapf(err, "decoding backoff limit of task %s", id)
	}
	if record.RetryNum, err = strconv.Atoi(fields[fieldRetryNum]); err != nil {
		return nil, errors.Wrapf(err, "decoding retry number of task %s", id)
	}
	if err = json.Unmarshal([]byte(fields[fieldSpec]), &record.Spec); err != nil {
		return nil, errors.Wrapf(err, "decoding spec of task %s", id)
	}
	if record.StartTime, err = parseTime(fields, fieldStartTime); err != nil {
		return nil, err
	}
	if record.FinishTime, err = parseTime(fields, fieldFinishTime); err != nil {
		return nil, err
	}
	return record, nil
}

func decodeRun(id string, fields map[string]string) (*RunRecord, error) {
	record := &RunRecord{
		Id:           id,
		TaskId:       fields[fieldTaskId],
		Pool:         fields[fieldPool],
		UnitName:     fields[fieldUnitName],
		Status:       status.RunStatus(fields[fieldStatus]),
		Ip:           fields[fieldIp],
		FailedReason: fields[fieldFailedReason],
	}
	var err error
	if record.Generation, err = strconv.ParseInt(fields[fieldGeneration], 10, 64); err != nil {
		return nil, errors.Wrapf(err, "decoding generation of run %s", id)
	}
	if record.StartTime, err = parseTime(fields, fieldStartTime); err != nil {
		return nil, err
	}
	if record.FinishTime, err = parseTime(fields, fieldFinishTime); err != nil {
		return nil, err
	}
	return record, nil
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTime(fields map[string]string, field string) (*time.Time, error) {
	raw, present := fields[field]
	if !present {
		return nil, nil
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", field)
	}
	parsed := time.UnixMilli(millis).UTC()
	return &parsed, nil
}
