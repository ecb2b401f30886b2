package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/console/handler"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/console/server"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/console/service"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/infra"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/infra/auth"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/ledger"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/repository/postgres"
	"go.uber.org/zap"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger, err := infra.BuildLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	// 2. Ключи RS256: консоль подписывает токены, поэтому нужны оба
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("private key load failed", zap.Error(err))
	}
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("public key load failed", zap.Error(err))
	}

	// 3. Инициализация ресурсов
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required (DATABASE_URL)")
	}
	reportRepo := postgres.NewReportRepo(cfg.Database.URL)
	headRepo := postgres.NewHeadRepo(cfg.Database.URL)

	// Проверяем соединение с таймаутом
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := reportRepo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// Хранилище сегментов должно совпадать с тем, куда пишет конвейер
	var segStore ledger.SegmentStore
	if cfg.Ledger.S3Bucket != "" {
		s3Store, err := ledger.NewS3SegmentStore(context.Background(), cfg.Ledger.S3Bucket, cfg.Ledger.S3Prefix, cfg.Ledger.S3Region)
		if err != nil {
			logger.Fatal("s3 segment store init failed", zap.Error(err))
		}
		segStore = s3Store
	} else {
		fileStore, err := ledger.NewFileSegmentStore(cfg.Ledger.SegmentDir)
		if err != nil {
			logger.Fatal("file segment store init failed", zap.Error(err))
		}
		segStore = fileStore
	}

	// 4. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(cfg.Auth, privateKey)
	reportService := service.NewReportService(reportRepo)
	ledgerService := service.NewLedgerService(segStore, headRepo, cfg.Ledger.GenesisHash)

	consoleSrv := server.NewConsoleServer(
		cfg,
		logger,
		auth.NewBaseValidator(publicKey),
		handler.NewAuthHandler(authService),
		handler.NewReportHandler(reportService),
		handler.NewLedgerHandler(ledgerService, logger),
		handler.NewExecutionHandler(rdb, logger),
	)

	// 5. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("console api started", zap.String("addr", srv.Addr))
	log.Fatal(srv.ListenAndServe())
}
