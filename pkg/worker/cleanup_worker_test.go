package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/inventory-etl/pkg/logger"
	"github.com/feichai0017/inventory-etl/pkg/queue"
)

type fakeCleaner struct {
	retention time.Duration
	removed   int
	err       error
}

func (f *fakeCleaner) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	f.retention = retention
	return f.removed, f.err
}

func newTestWorker(c Cleaner, log logger.Logger) *CleanupWorker {
	return NewCleanupWorker(&Config{Queue: queue.Config{RedisAddr: "localhost:6379"}, Concurrency: 1}, c, log)
}

func TestHandleCleanup(t *testing.T) {
	cleaner := &fakeCleaner{removed: 4}
	log := logger.NewTestLogger()
	w := newTestWorker(cleaner, log)

	task, err := queue.NewCleanupTask(72 * time.Hour)
	require.NoError(t, err)

	require.NoError(t, w.HandleCleanup(context.Background(), task))
	require.Equal(t, 72*time.Hour, cleaner.retention)
	require.Contains(t, log.Messages("INFO"), "Upload cleanup finished")
}

func TestHandleCleanupBadPayloadSkipsRetry(t *testing.T) {
	w := newTestWorker(&fakeCleaner{}, logger.NewNop())

	err := w.HandleCleanup(context.Background(), asynq.NewTask(queue.TaskTypeCleanupUploads, []byte(`{}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, queue.ErrInvalidPayload)
}

func TestHandleCleanupReturnsStorageError(t *testing.T) {
	boom := errors.New("bucket unavailable")
	w := newTestWorker(&fakeCleaner{err: boom}, logger.NewNop())

	task, err := queue.NewCleanupTask(time.Hour)
	require.NoError(t, err)
	require.ErrorIs(t, w.HandleCleanup(context.Background(), task), boom)
}
