package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/visionq/internal/config"
	"github.com/example/visionq/internal/inference"
	"github.com/example/visionq/internal/logging"
	"github.com/example/visionq/internal/queue"
	"github.com/example/visionq/internal/repository"
	"github.com/example/visionq/internal/worker"
)

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.Load()

	initCtx, initCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer initCancel()

	db := initDatabase(initCtx, cfg.Store, logger)
	queryRepo := repository.NewQueryRepository(db, logger)
	if err := queryRepo.AutoMigrate(initCtx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisClient := initRedis(initCtx, cfg.Queue.RedisAddr, logger)
	workQueue := queue.NewRedisQueue(redisClient, cfg.Queue, logger)

	// Messages stranded by a previous crash go back on the queue before the
	// loop starts.
	moved, err := workQueue.RequeueOrphans(initCtx)
	if err != nil {
		logger.Fatal("orphan requeue failed", zap.Error(err))
	}
	if moved > 0 {
		logger.Info("requeued orphaned messages", zap.Int("count", moved))
	}

	client := inference.NewHTTPClient(cfg.Inference, logger)
	consumer := worker.NewConsumer(
		workQueue,
		queryRepo,
		client,
		inference.DefaultsFromConfig(cfg.Inference),
		cfg.Queue.AbandonPause,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker failed", zap.Error(err))
	}
	logger.Info("worker exited")
}

func initDatabase(ctx context.Context, cfg config.StoreConfig, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}
