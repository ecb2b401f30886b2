package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/eventsource"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/infra"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/ledger"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/pipeline"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/repository/postgres"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/stages"
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

	// 2. Инфраструктура и ресурсы
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
	if err := headRepo.Init(pingCtx); err != nil {
		logger.Fatal("ledger head init failed", zap.Error(err))
	}
	pingCancel()

	artifacts, err := stages.NewFileArtifactStore(cfg.Pipeline.ArtifactRoot)
	if err != nil {
		logger.Fatal("artifact store init failed", zap.Error(err))
	}

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Метрики
	reg := prometheus.NewRegistry()
	pipeMetrics := pipeline.NewMetrics(reg)
	ledgerMetrics := ledger.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics exporter started", zap.String("addr", addr))
		log.Fatal(http.ListenAndServe(addr, mux))
	}()

	// 4. Стадии конвейера. Внешние вызовы защищаем Reliability-оберткой.
	relCfg := stages.ReliabilityConfig{
		CBMaxRequests:  cfg.Pipeline.CBMaxRequests,
		CBInterval:     cfg.Pipeline.CBInterval,
		CBTimeout:      cfg.Pipeline.CBTimeout,
		RateLimitRPS:   cfg.Pipeline.RateLimitRPS,
		RateLimitBurst: cfg.Pipeline.RateLimitBurst,
	}

	var detector stages.Detector
	if cfg.Pipeline.InferenceEndpoint != "" {
		detector = stages.NewHTTPDetector(cfg.Pipeline.InferenceEndpoint, cfg.Pipeline.StageTimeout, logger)
	} else {
		logger.Warn("inference endpoint not set, using mock detector")
		detector = &stages.MockDetector{Latency: 50 * time.Millisecond}
	}

	publisher := eventsource.NewStreamPublisher(rdb)

	redaction := stages.NewReliabilityWrapper(
		stages.NewRedactionStage(artifacts, &stages.MockRedactor{Latency: 20 * time.Millisecond}, cfg.Pipeline.EvidenceBucket, logger), relCfg)
	inference := stages.NewReliabilityWrapper(
		stages.NewInferenceStage(artifacts, detector, cfg.Pipeline.ConfidenceThreshold, logger), relCfg)
	enrichment := stages.NewReliabilityWrapper(
		stages.NewEnrichmentStage(&stages.MockZoneLocator{}, logger), relCfg)
	persist := stages.NewPersistStage(reportRepo, publisher, &stages.MockNotifier{}, logger)

	// 5. Оркестратор + Ingest API
	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		StageTimeout:  cfg.Pipeline.StageTimeout,
		RetryAttempts: cfg.Pipeline.RetryAttempts,
		BackoffBase:   cfg.Pipeline.BackoffBase,
	}, redaction, inference, enrichment, persist, logger, pipeMetrics)

	ingest := pipeline.NewIngestHandler(orch, artifacts, cfg.Pipeline.RawBucket, logger, pipeMetrics)

	// Операторские сигналы отмены (из консоли, через Redis)
	abortMgr := pipeline.NewAbortManager(rdb, orch, logger)
	go abortMgr.Listen(appCtx)

	// 6. Леджер: хранилище сегментов, дедуп, билдер, потребитель стрима
	var segStore ledger.SegmentStore
	if cfg.Ledger.S3Bucket != "" {
		s3Store, err := ledger.NewS3SegmentStore(appCtx, cfg.Ledger.S3Bucket, cfg.Ledger.S3Prefix, cfg.Ledger.S3Region)
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

	// Двухслойный дедуп: локальный кэш экономит поход в Redis на горячем пути
	dedup := ledger.NewLayeredDedup(
		ledger.NewMemoryDedup(cfg.Ledger.DedupCacheSize),
		ledger.NewRedisDedup(rdb, cfg.Ledger.DedupTTL),
	)

	// Журнал предзаписи в Redis: несброшенный хвост цепочки переживает рестарт
	journal := ledger.NewRedisRecordLog(rdb)

	builder := ledger.NewBuilder(ledger.BuilderConfig{
		Genesis:           cfg.Ledger.GenesisHash,
		SegmentMaxRecords: cfg.Ledger.SegmentMaxRecords,
		SegmentMaxAge:     cfg.Ledger.SegmentMaxAge,
		RetentionPeriod:   cfg.Ledger.RetentionPeriod,
	}, headRepo, segStore, dedup, journal, logger, ledgerMetrics)
	builder.Start()

	hostname, _ := os.Hostname()
	consumer := eventsource.NewStreamConsumer(rdb, hostname,
		func(ctx context.Context, ev domain.MutationEvent) error {
			return builder.Append(ctx, ev)
		}, logger)
	go consumer.Run(appCtx)

	// 7. HTTP Server
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(pipeline.TracingMiddleware)
	ingest.Routes(r)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("pipeline service started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("pipeline service stopping...")

	// Даем 5 секунд на завершение HTTP-запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Дожидаемся активных прогонов, затем гасим фоновые циклы
	orch.Wait()
	cancel()

	// Билдер закрывает хвостовой сегмент перед выходом
	builder.Stop()

	logger.Info("pipeline service exited properly")
}
