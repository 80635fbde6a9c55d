// Package main runs the background job worker (wallet settlements, audit exports to S3).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-consult/backend/config"
	"github.com/aura-consult/backend/internal/events"
	"github.com/aura-consult/backend/internal/settlement"
	"github.com/aura-consult/backend/internal/wallet"
	"github.com/aura-consult/backend/internal/worker"
	"github.com/aura-consult/backend/pkg/database"
	"github.com/aura-consult/backend/pkg/queue"
	"github.com/aura-consult/backend/pkg/redis"
	"github.com/aura-consult/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			AuditBucket:          cfg.AWS.AuditBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	walletRepo := wallet.NewRepository(pool)
	walletSvc := wallet.NewService(walletRepo, cfg.Billing.Currency, logger)
	settlementRepo := settlement.NewRepository(pool)
	eventRepo := events.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	settlementProc := worker.NewSettlementProcessor(walletSvc, settlementRepo, cfg.Billing.Currency, logger)
	var auditProc *worker.AuditExportProcessor
	if s3Client != nil {
		auditProc = worker.NewAuditExportProcessor(eventRepo, s3Client, logger)
	}
	jobWorker := worker.New(jobQueue, settlementProc, auditProc, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go jobWorker.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
