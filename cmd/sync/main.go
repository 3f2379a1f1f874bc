package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/config"
	"github.com/sellerops/marketsync/internal/logging"
	"github.com/sellerops/marketsync/internal/observability"
	"github.com/sellerops/marketsync/internal/services"
	"github.com/sellerops/marketsync/internal/takealot"
	"github.com/sellerops/marketsync/internal/utils/httpclient"
)

func main() {
	if err := logging.InitLogger(); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	logger := logging.Logger

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting marketsync chunk worker")

	observability.InitTracer(cfg.TracingEnabled, cfg.TracingEndpoint, logger)
	defer observability.ShutdownTracer(logger)

	db, disconnect, err := config.NewMongoDB(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer disconnect()

	redis, err := config.NewRedis(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}

	pool := httpclient.NewPool(20, cfg.FetchTimeout, cfg.ProxyURL)
	defer pool.Close()
	client := takealot.NewClient(cfg.APIBaseURL, pool, logger)

	recordStore := services.NewMongoRecordStore(db, cfg)
	jobStore := services.NewMongoJobStore(db, cfg)
	locker := services.NewRedisLocker(redis)

	engine := services.NewUpsertEngine(recordStore, logger)
	controller := services.NewFetchController(client, engine, cfg.BatchFetchConcurrency, logger)
	jobManager := services.NewJobManager(jobStore, locker, cfg.JobRetentionDays, logger)
	marker := services.NewRedisCompletionMarker(redis)
	syncService := services.NewSyncService(jobManager, controller, locker, marker, logger)

	worker := services.NewSyncWorker(syncService, jobManager, cfg.ChunkWorkerInterval, logger)
	go worker.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("shutdown signal received")

	worker.Stop()

	logger.Info("marketsync chunk worker stopped")
}
