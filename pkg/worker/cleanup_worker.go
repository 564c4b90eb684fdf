package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/inventory-etl/pkg/logger"
	"github.com/feichai0017/inventory-etl/pkg/queue"
)

// Cleaner deletes stored uploads older than retention.
type Cleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
}

// CleanupWorker runs the upload retention task.
type CleanupWorker struct {
	BaseWorker
	cleaner Cleaner
}

func NewCleanupWorker(cfg *Config, cleaner Cleaner, log logger.Logger) *CleanupWorker {
	w := &CleanupWorker{
		BaseWorker: newBaseWorker(cfg, log),
		cleaner:    cleaner,
	}
	// 注册任务处理器
	w.mux.HandleFunc(queue.TaskTypeCleanupUploads, w.HandleCleanup)
	return w
}

// HandleCleanup 处理上传清理任务
func (w *CleanupWorker) HandleCleanup(ctx context.Context, t *asynq.Task) error {
	p, err := queue.ParseCleanupPayload(t)
	if err != nil {
		w.logger.Error("Invalid cleanup task", logger.Error(err), logger.String("payload", string(t.Payload())))
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	start := time.Now()
	removed, err := w.cleaner.Cleanup(ctx, p.Retention)
	if err != nil {
		w.logger.Error("Upload cleanup failed",
			logger.Duration("retention", p.Retention),
			logger.Int("removed", removed),
			logger.Error(err),
		)
		return err
	}

	w.logger.Info("Upload cleanup finished",
		logger.Duration("retention", p.Retention),
		logger.Int("removed", removed),
		logger.Duration("elapsed", time.Since(start)),
	)
	if rw := t.ResultWriter(); rw != nil {
		if _, err := rw.Write([]byte(fmt.Sprintf(`{"removed":%d}`, removed))); err != nil {
			w.logger.Warn("Failed to write task result", logger.Error(err))
		}
	}
	return nil
}
