package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/inventory-etl/pkg/logger"
	"github.com/feichai0017/inventory-etl/pkg/queue"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	Queue       queue.Config
	Concurrency int
	Queues      map[string]int
}

type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopChan chan struct{}
}

func newBaseWorker(cfg *Config, log logger.Logger) BaseWorker {
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = queue.DefaultQueues()
	}
	server := asynq.NewServer(cfg.Queue.RedisOpt(), asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      queues,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return time.Duration(n) * time.Minute
		},
	})
	return BaseWorker{
		server:   server,
		mux:      asynq.NewServeMux(),
		logger:   log,
		stopChan: make(chan struct{}),
	}
}

// Start runs the server until ctx is done.
func (w *BaseWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopChan:
		}
	}()
	return nil
}

func (w *BaseWorker) Stop() error {
	select {
	case <-w.stopChan:
		return nil
	default:
	}
	close(w.stopChan)
	w.server.Shutdown()
	return nil
}
