// pkg/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskType 定义任务类型
const (
	TaskTypeCleanupUploads = "inventory:cleanup_uploads"
)

// Queue names and their weights.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// DefaultQueues 默认队列权重
func DefaultQueues() map[string]int {
	return map[string]int{
		QueueCritical: 6,
		QueueDefault:  3,
		QueueLow:      1,
	}
}

var ErrInvalidPayload = errors.New("invalid task payload")

// Config 定义队列配置
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// RedisOpt returns the asynq connection options for cfg.
func (c *Config) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// CleanupPayload asks the worker to delete uploads older than Retention.
type CleanupPayload struct {
	Retention   time.Duration `json:"retention"`
	RequestedAt time.Time     `json:"requestedAt"`
}

// NewCleanupTask 创建上传清理任务
func NewCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("%w: retention must be positive", ErrInvalidPayload)
	}
	payload, err := json.Marshal(CleanupPayload{Retention: retention, RequestedAt: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	return asynq.NewTask(TaskTypeCleanupUploads, payload,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	), nil
}

// ParseCleanupPayload 解析清理任务
func ParseCleanupPayload(t *asynq.Task) (*CleanupPayload, error) {
	var p CleanupPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Retention <= 0 {
		return nil, fmt.Errorf("%w: retention must be positive", ErrInvalidPayload)
	}
	return &p, nil
}

// TaskStatus 定义任务状态
type TaskStatus struct {
	TaskID     string    `json:"taskId"`
	Queue      string    `json:"queue"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Result     string    `json:"result,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// AsynqQueue enqueues maintenance tasks and reports on them.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg *Config) *AsynqQueue {
	opt := cfg.RedisOpt()
	return &AsynqQueue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

// EnqueueCleanup 立即加入一次上传清理任务
func (q *AsynqQueue) EnqueueCleanup(ctx context.Context, retention time.Duration) (string, error) {
	t, err := NewCleanupTask(retention)
	if err != nil {
		return "", err
	}
	info, err := q.client.EnqueueContext(ctx, t)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info.ID, nil
}

// GetTaskStatus 从所有队列中查找任务状态
func (q *AsynqQueue) GetTaskStatus(taskID string) (*TaskStatus, error) {
	var lastErr error
	for _, name := range []string{QueueCritical, QueueDefault, QueueLow} {
		info, err := q.inspector.GetTaskInfo(name, taskID)
		if err == nil {
			return convertAsynqStatus(info), nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("task not found in any queue: %w", lastErr)
}

// Close 关闭客户端
func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}

// convertAsynqStatus 将 asynq 状态转换为 TaskStatus
func convertAsynqStatus(info *asynq.TaskInfo) *TaskStatus {
	status := &TaskStatus{
		TaskID: info.ID,
		Queue:  info.Queue,
		Status: info.State.String(),
		Error:  info.LastErr,
	}
	if info.State == asynq.TaskStateCompleted {
		status.FinishedAt = info.CompletedAt
		status.Result = string(info.Result)
	}
	return status
}

// NewScheduler registers the periodic upload cleanup on cronspec, e.g. "@every 1h".
func NewScheduler(cfg *Config, cronspec string, retention time.Duration) (*asynq.Scheduler, error) {
	t, err := NewCleanupTask(retention)
	if err != nil {
		return nil, err
	}
	scheduler := asynq.NewScheduler(cfg.RedisOpt(), &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := scheduler.Register(cronspec, t); err != nil {
		return nil, fmt.Errorf("failed to register cleanup schedule %q: %w", cronspec, err)
	}
	return scheduler, nil
}
