// Package main runs the consultation billing HTTP server with WebSocket and
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-consult/backend/config"
	"github.com/aura-consult/backend/internal/auth"
	"github.com/aura-consult/backend/internal/billing"
	"github.com/aura-consult/backend/internal/commission"
	"github.com/aura-consult/backend/internal/events"
	"github.com/aura-consult/backend/internal/middleware"
	"github.com/aura-consult/backend/internal/realtime"
	"github.com/aura-consult/backend/internal/settlement"
	"github.com/aura-consult/backend/internal/wallet"
	"github.com/aura-consult/backend/internal/worker"
	"github.com/aura-consult/backend/pkg/database"
	"github.com/aura-consult/backend/pkg/queue"
	"github.com/aura-consult/backend/pkg/redis"
	"github.com/aura-consult/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

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

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	notifier := realtime.NewNotifier(hub, redisPubSub, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Wallets
	walletRepo := wallet.NewRepository(pool)
	walletSvc := wallet.NewService(walletRepo, cfg.Billing.Currency, logger)
	walletHandler := wallet.NewHandler(walletSvc, logger)

	// Commission engine
	defaultPercent, err := decimal.NewFromString(cfg.Billing.DefaultCommissionPercent)
	if err != nil {
		logger.Fatal("invalid default commission percent", zap.Error(err))
	}
	commissionRepo := commission.NewRepository(pool)
	engine := commission.NewEngine(commissionRepo, defaultPercent, logger)
	commissionHandler := commission.NewHandler(commissionRepo, engine, logger)

	// Audit trail
	eventRepo := events.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	eventHandler := events.NewHandler(eventRepo, jobQueue, s3Client, logger)

	// Billing engine
	sessionRepo := billing.NewRepository(pool)
	tickInterval := time.Duration(cfg.Billing.TickIntervalSec) * time.Second
	billingSvc := billing.NewService(tickInterval, walletSvc, engine, eventRepo, sessionRepo, jobQueue, notifier, notifier, logger)
	restored, err := billingSvc.Restore(ctx)
	if err != nil {
		logger.Fatal("restore open sessions", zap.Error(err))
	}
	logger.Info("open sessions restored", zap.Int("count", restored))
	billingHandler := billing.NewHandler(billingSvc, sessionRepo, logger)

	// Settlements (worker also runs standalone via cmd/worker)
	settlementRepo := settlement.NewRepository(pool)
	settlementHandler := settlement.NewHandler(settlementRepo, logger)
	settlementProc := worker.NewSettlementProcessor(walletSvc, settlementRepo, cfg.Billing.Currency, logger)
	var auditProc *worker.AuditExportProcessor
	if s3Client != nil {
		auditProc = worker.NewAuditExportProcessor(eventRepo, s3Client, logger)
	}
	jobWorker := worker.New(jobQueue, settlementProc, auditProc, logger)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/me", authHandler.Me)

		// Sessions
		api.POST("/sessions", middleware.RequireRole("client", "admin"), billingHandler.Start)
		api.GET("/sessions", middleware.RequireRole("admin"), billingHandler.ListActive)
		api.GET("/sessions/:id", billingHandler.Get)
		api.POST("/sessions/:id/pause", billingHandler.Pause)
		api.POST("/sessions/:id/resume", billingHandler.Resume)
		api.POST("/sessions/:id/end", billingHandler.End)
		api.GET("/sessions/:id/events", eventHandler.ListBySession)
		api.POST("/sessions/:id/events/export", middleware.RequireRole("admin"), eventHandler.ExportSession)
		api.GET("/sessions/:id/replay", middleware.RequireRole("admin"), eventHandler.Replay)
		api.GET("/sessions/:id/settlement", settlementHandler.GetBySession)

		// Session history
		api.GET("/clients/:id/sessions", billingHandler.ClientHistory)
		api.GET("/operators/:id/sessions", billingHandler.OperatorHistory)

		// Operators and commissions
		api.GET("/operators", middleware.RequireRole("admin"), authHandler.ListOperators)
		api.GET("/operators/:id/earnings", commissionHandler.Earnings)
		api.POST("/operators/:id/commission-rules", middleware.RequireRole("admin"), commissionHandler.CreateRule)
		api.GET("/operators/:id/commission-rules", middleware.RequireRole("admin"), commissionHandler.ListRules)
		api.PATCH("/commission-rules/:id/deactivate", middleware.RequireRole("admin"), commissionHandler.DeactivateRule)
		api.GET("/operators/:id/settlement-totals", middleware.RequireRole("admin"), settlementHandler.OperatorTotals)

		// Settlement reconciliation (admin)
		api.GET("/settlements/failed", middleware.RequireRole("admin"), settlementHandler.ListFailed)

		// Wallets
		api.GET("/wallets/:clientId", walletHandler.GetBalance)
		api.POST("/wallets/:clientId/credit", middleware.RequireRole("admin"), walletHandler.Credit)

		// Audit exports (admin)
		api.POST("/audit/exports/:day", middleware.RequireRole("admin"), eventHandler.ExportDay)
		api.GET("/audit/exports/:day/download-url", middleware.RequireRole("admin"), eventHandler.DownloadExport)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (settlements, audit exports)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go jobWorker.Run(workerCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	billingSvc.Close()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
