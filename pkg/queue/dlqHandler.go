package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// DLQHandler stores tasks that exhausted their retries.
type DLQHandler interface {
	HandleFailedTask(task *Task, err error)
	GetFailedTasks(ctx context.Context, limit int) ([]*FailedTask, error)
	RequeueFailedTask(ctx context.Context, mainQueue, taskID string) error
	DeleteFailedTask(ctx context.Context, taskID string) error
}

// FailedTask is one dead-lettered task with its failure context.
type FailedTask struct {
	Task     *Task     `json:"task"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
	Attempts int       `json:"attempts"`
}

// DefaultDLQHandler keeps failed tasks in a sorted set scored by failure
// time.
type DefaultDLQHandler struct {
	client *redis.Client
	dlq    string
	log    *logrus.Logger
}

func NewDefaultDLQHandler(client *redis.Client, dlq string, log *logrus.Logger) *DefaultDLQHandler {
	return &DefaultDLQHandler{client: client, dlq: dlq, log: log}
}

// HandleFailedTask stores a failed task in the DLQ
func (d *DefaultDLQHandler) HandleFailedTask(task *Task, err error) {
	failed := &FailedTask{
		Task:     task,
		Error:    err.Error(),
		FailedAt: time.Now(),
		Attempts: task.Attempts,
	}

	taskData, marshalErr := json.Marshal(failed)
	if marshalErr != nil {
		d.log.WithError(marshalErr).Error("failed to marshal dead-lettered task")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	score := float64(failed.FailedAt.UnixNano()) / 1e9
	if redisErr := d.client.ZAdd(ctx, d.dlq, &redis.Z{Score: score, Member: taskData}).Err(); redisErr != nil {
		d.log.WithError(redisErr).Error("failed to store task in DLQ")
		return
	}

	d.log.WithError(err).WithField("task_id", task.ID).Warn("task moved to DLQ")
}

// GetFailedTasks returns dead-lettered tasks, newest first
func (d *DefaultDLQHandler) GetFailedTasks(ctx context.Context, limit int) ([]*FailedTask, error) {
	if limit <= 0 {
		limit = 50
	}

	raw, err := d.client.ZRevRange(ctx, d.dlq, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed tasks: %w", err)
	}

	tasks := make([]*FailedTask, 0, len(raw))
	for _, data := range raw {
		var failed FailedTask
		if err := json.Unmarshal([]byte(data), &failed); err != nil {
			d.log.WithError(err).Warn("skipping undecodable DLQ entry")
			continue
		}
		tasks = append(tasks, &failed)
	}
	return tasks, nil
}

// RequeueFailedTask pushes a dead-lettered task back to the main queue with
// a reset attempt counter
func (d *DefaultDLQHandler) RequeueFailedTask(ctx context.Context, mainQueue, taskID string) error {
	failed, data, err := d.findByID(ctx, taskID)
	if err != nil {
		return err
	}

	failed.Task.Attempts = 0
	taskData, err := json.Marshal(failed.Task)
	if err != nil {
		return fmt.Errorf("failed to marshal requeued task: %w", err)
	}

	pipe := d.client.Pipeline()
	pipe.LPush(ctx, mainQueue, taskData)
	pipe.ZRem(ctx, d.dlq, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to requeue task: %w", err)
	}

	d.log.WithField("task_id", taskID).Info("task requeued from DLQ")
	return nil
}

// DeleteFailedTask removes a dead-lettered task permanently
func (d *DefaultDLQHandler) DeleteFailedTask(ctx context.Context, taskID string) error {
	_, data, err := d.findByID(ctx, taskID)
	if err != nil {
		return err
	}

	if err := d.client.ZRem(ctx, d.dlq, data).Err(); err != nil {
		return fmt.Errorf("failed to delete task from DLQ: %w", err)
	}
	return nil
}

func (d *DefaultDLQHandler) findByID(ctx context.Context, taskID string) (*FailedTask, string, error) {
	raw, err := d.client.ZRange(ctx, d.dlq, 0, -1).Result()
	if err != nil {
		return nil, "", fmt.Errorf("failed to scan DLQ: %w", err)
	}

	for _, data := range raw {
		var failed FailedTask
		if err := json.Unmarshal([]byte(data), &failed); err != nil {
			continue
		}
		if failed.Task != nil && failed.Task.ID == taskID {
			return &failed, data, nil
		}
	}
	return nil, "", fmt.Errorf("task %s not found in DLQ", taskID)
}
