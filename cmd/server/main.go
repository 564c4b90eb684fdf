package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/inventory-etl/api/handlers"
	"github.com/feichai0017/inventory-etl/api/routes"
	"github.com/feichai0017/inventory-etl/config"
	"github.com/feichai0017/inventory-etl/internal/agent"
	"github.com/feichai0017/inventory-etl/internal/agent/sqlgen"
	"github.com/feichai0017/inventory-etl/internal/service/etl"
	"github.com/feichai0017/inventory-etl/internal/service/query"
	"github.com/feichai0017/inventory-etl/internal/warehouse"
	"github.com/feichai0017/inventory-etl/pkg/database/postgres"
	"github.com/feichai0017/inventory-etl/pkg/jobstore"
	"github.com/feichai0017/inventory-etl/pkg/logger"
	"github.com/feichai0017/inventory-etl/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(cfg.Log.OutputPaths),
		logger.WithService("inventory-etl"),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	// init database
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	gw, err := postgres.NewGateway(ctx, &postgres.Config{
		URL:      cfg.Database.URL,
		MaxConns: int32(cfg.Database.MaxConns),
	}, log.Named("postgres"))
	if err != nil {
		log.Fatal("Failed to connect to database", logger.Error(err))
	}
	defer gw.Close()

	if cfg.Database.AutoMigrate {
		if err := warehouse.Migrate(ctx, gw); err != nil {
			log.Fatal("Failed to apply schema", logger.Error(err))
		}
		log.Info("Warehouse schema applied")
	}

	policy, err := warehouse.ParseSnapshotPolicy(cfg.ETL.SnapshotPolicy)
	if err != nil {
		log.Fatal("Invalid snapshot policy", logger.Error(err))
	}
	etlCfg := etl.DefaultServiceConfig()
	etlCfg.MaxFileSize = cfg.ETL.MaxFileSize()
	etlCfg.ProcessTimeout = cfg.ETL.ProcessTimeout
	etlCfg.StagingBatchSize = cfg.ETL.StagingBatchSize
	etlCfg.SnapshotPolicy = policy
	etlCfg.SourceSystem = cfg.ETL.SourceSystem

	var opts []etl.Option

	// optional blob store for uploads
	if cfg.Storage.Type != "" {
		store, err := storage.NewStorage(storage.StorageType(cfg.Storage.Type), &cfg.Storage, log.Named("storage"))
		if err != nil {
			log.Fatal("Failed to create storage", logger.Error(err))
		}
		opts = append(opts, etl.WithUploads(storage.NewUploads(store)))
	}

	// optional job history in redis
	if cfg.Redis.Addr != "" {
		recorder, err := jobstore.NewRedisRecorder(ctx, &jobstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.JobTTL,
		})
		if err != nil {
			log.Warn("Job history disabled", logger.Error(err))
		} else {
			defer recorder.Close()
			opts = append(opts, etl.WithHistory(recorder))
		}
	}

	etlService := etl.NewService(
		agent.NewProcessorFactory(log.Named("parser")),
		gw,
		etl.NewMemoryStore(),
		log.Named("etl"),
		etlCfg,
		opts...,
	)

	// optional NL-to-SQL engine
	var generator query.Generator
	if cfg.Query.NL2SQLAddr != "" {
		gen, err := sqlgen.NewSqlGenerator(log.Named("sqlgen"), &sqlgen.Config{
			GrpcAddress: cfg.Query.NL2SQLAddr,
			Timeout:     cfg.Query.NL2SQLTimeout,
		})
		if err != nil {
			log.Fatal("Failed to create sql generator", logger.Error(err))
		}
		defer gen.Close()
		generator = gen
	}
	queryService := query.NewService(gw, generator, log.Named("query"), &query.Config{
		StatementTimeout: cfg.Query.StatementTimeout,
		DefaultLimit:     cfg.Query.DefaultLimit,
	})

	// init handlers
	gin.SetMode(gin.ReleaseMode)
	h := handlers.NewHandlers(etlService, queryService, gw, log)
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = cfg.ETL.MaxFileSize()
	routes.SetupRoutes(r, h, log.Named("http"))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
	if err := etlService.Shutdown(shutdownCtx); err != nil {
		log.Error("ETL jobs interrupted by shutdown", logger.Error(err))
	}
	log.Info("Server stopped")
}
