package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/inventory-etl/internal/models"
)

// ErrNotFound is returned when no job record exists under the id.
var ErrNotFound = errors.New("job record not found")

const keyPrefix = "etl_job:"

// Config Redis 连接配置
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisRecorder mirrors job snapshots into Redis as JSON with a TTL.
type RedisRecorder struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRecorder 连接 Redis 并检查连通性
func NewRedisRecorder(ctx context.Context, cfg *Config) (*RedisRecorder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisRecorderFromClient(client, cfg.TTL), nil
}

// NewRedisRecorderFromClient wraps an existing client. ttl <= 0 means 24h.
func NewRedisRecorderFromClient(client *redis.Client, ttl time.Duration) *RedisRecorder {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRecorder{client: client, ttl: ttl}
}

func Key(jobID string) string {
	return keyPrefix + jobID
}

// Record 保存任务快照
func (r *RedisRecorder) Record(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := r.client.Set(ctx, Key(job.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// Lookup 读取任务快照
func (r *RedisRecorder) Lookup(ctx context.Context, jobID string) (*models.Job, error) {
	data, err := r.client.Get(ctx, Key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

func (r *RedisRecorder) Close() error {
	return r.client.Close()
}
