package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/config"
	"github.com/sellerops/marketsync/internal/handlers"
	"github.com/sellerops/marketsync/internal/logging"
	"github.com/sellerops/marketsync/internal/middleware"
	"github.com/sellerops/marketsync/internal/observability"
	"github.com/sellerops/marketsync/internal/services"
	"github.com/sellerops/marketsync/internal/takealot"
	"github.com/sellerops/marketsync/internal/utils/httpclient"

	_ "github.com/sellerops/marketsync/docs"
)

// @title           Marketsync API
// @version         1.0
// @description     Resumable marketplace synchronization service. Pages through the seller API, upserts sales and product records into the document store, and tracks resumable job state so long syncs survive across invocations.

// @host      localhost:8080
// @BasePath  /v1

// @tag.name sync
// @tag.description Sync job and one-shot sync operations

// @tag.name health
// @tag.description Health check operations

func main() {
	if err := logging.InitLogger(); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	logger := logging.Logger

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

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

	// Wire the sync engine.
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
	oneShot := services.NewOneShotService(controller, engine, cfg.ManualSyncTimeout, cfg.ScheduledSyncTimeout, logger)
	statsService := services.NewStatsService(recordStore, marker, logger)

	syncHandlers := handlers.NewSyncHandlers(syncService, oneShot, statsService, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.RequestTracker(),
		cors.Default(),
	)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/health", handlers.HealthCheck)

		v1.POST("/sync/jobs", syncHandlers.CreateOrResumeJob)
		v1.GET("/sync/jobs", syncHandlers.ListActiveJobs)
		v1.DELETE("/sync/jobs", syncHandlers.CleanupJobs)
		v1.POST("/sync/jobs/:id/process", syncHandlers.ProcessChunk)
		v1.POST("/sync/jobs/:id/cancel", syncHandlers.CancelJob)
		v1.GET("/sync/stats", syncHandlers.GetStats)
		v1.POST("/sync/sales", syncHandlers.OneShotSales)
	}

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server",
			zap.Int("port", cfg.Port),
			zap.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
