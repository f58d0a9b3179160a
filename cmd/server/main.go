package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/database"
	"github.com/stemsi/exstem-cbt/internal/handler"
	"github.com/stemsi/exstem-cbt/internal/logger"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"github.com/stemsi/exstem-cbt/internal/router"
	"github.com/stemsi/exstem-cbt/internal/service"
	"github.com/stemsi/exstem-cbt/internal/validator"
	"github.com/stemsi/exstem-cbt/internal/worker"
)

// heartbeatTTL bounds how long a heartbeat (and the fingerprint it carries)
// is remembered. It only has to outlive the longest exam.
const heartbeatTTL = 12 * time.Hour

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem CBT engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	store := repository.NewPgStore(pool)
	examRepo := repository.NewExamRepository(pool)
	examCache := repository.NewExamCacheRepository(rdb, cfg.ExamCacheTTL)
	heartbeats := repository.NewHeartbeatRepository(rdb, heartbeatTTL)
	queue := repository.NewQueueRepository(rdb)
	locks := repository.NewLockRepository(rdb)
	beacons := repository.NewBeaconRepository(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	catalog := service.NewExamCatalog(examRepo, examCache, log)
	ledgerService := service.NewLedgerService(store, catalog, queue, log)
	attemptService := service.NewAttemptService(store, catalog, heartbeats, ledgerService, cfg, log)
	answerService := service.NewAnswerService(store, catalog, cfg, log)
	scoreService := service.NewScoreService(store, catalog, log)
	integrityService := service.NewIntegrityService(store, heartbeats, queue, log)
	reportService := service.NewReportService(store, catalog)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, answerService, integrityService, log),
		Grading: handler.NewGradingHandler(answerService, scoreService, ledgerService, attemptService, log),
		Report:  handler.NewReportHandler(reportService, integrityService, answerService, catalog, log),
		WS:      handler.NewWSHandler(attemptService, answerService, integrityService, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(pool, queue, log),
	}
	beaconLimiter := middleware.NewBeaconLimiter(beacons, cfg.BeaconRateLimit, time.Minute, log)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	sweeper := worker.NewExpirySweeper(store, attemptService, heartbeats, locks, cfg, log)
	eventWorker := worker.NewIntegrityEventWorker(pool, rdb, log)
	ledgerWorker := worker.NewLedgerSyncWorker(rdb, ledgerService, cfg, log)

	workers.Go(func() { sweeper.Start(workerCtx) })
	workers.Go(func() { eventWorker.Start(workerCtx) })
	workers.Go(func() { ledgerWorker.Start(workerCtx) })

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Every live exam is in Redis before the first student connects.
	if err := catalog.Prewarm(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, beaconLimiter, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers; each flushes what it holds before returning.
	workerCancel()
	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Workers did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
