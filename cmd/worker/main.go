package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/inventory-etl/config"
	"github.com/feichai0017/inventory-etl/pkg/logger"
	"github.com/feichai0017/inventory-etl/pkg/queue"
	"github.com/feichai0017/inventory-etl/pkg/storage"
	"github.com/feichai0017/inventory-etl/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(cfg.Log.OutputPaths),
		logger.WithService("inventory-worker"),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.Redis.Addr == "" || cfg.Storage.Type == "" {
		log.Fatal("REDIS_ADDR and STORAGE_TYPE are required for the worker")
	}

	store, err := storage.NewStorage(storage.StorageType(cfg.Storage.Type), &cfg.Storage, log.Named("storage"))
	if err != nil {
		log.Fatal("Failed to create storage", logger.Error(err))
	}

	queueCfg := queue.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}

	cleanupWorker := worker.NewCleanupWorker(&worker.Config{
		Queue:       queueCfg,
		Concurrency: 2,
		Queues:      queue.DefaultQueues(),
	}, storage.NewUploads(store), log.Named("cleanup"))

	scheduler, err := queue.NewScheduler(&queueCfg, cfg.Storage.CleanupSchedule, cfg.Storage.Retention)
	if err != nil {
		log.Fatal("Failed to create scheduler", logger.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动 worker
	if err := cleanupWorker.Start(ctx); err != nil {
		log.Fatal("Failed to start worker", logger.Error(err))
	}
	if err := scheduler.Start(); err != nil {
		log.Fatal("Failed to start scheduler", logger.Error(err))
	}
	log.Info("Worker started",
		logger.String("schedule", cfg.Storage.CleanupSchedule),
		logger.Duration("retention", cfg.Storage.Retention),
	)

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// 优雅关闭
	log.Info("Shutting down worker...")
	scheduler.Shutdown()
	cleanupWorker.Stop()
	log.Info("Worker stopped")
}
