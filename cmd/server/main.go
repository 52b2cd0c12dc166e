package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/directory"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/router"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
	"github.com/stemsi/exstem-attempt/internal/worker"
	"golang.org/x/sync/errgroup"
)

const recoveryRetryFloor = 5 * time.Second

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("directory", cfg.DirectoryURL).
		Msg("Starting ExStem Attempt")

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

	// ─── Exam Directory Client ─────────────────────────────────────────
	dir := directory.NewClient(cfg.DirectoryURL, cfg.DirectoryToken, cfg.DirectoryTimeout, log)

	// ─── Initialize Repositories ───────────────────────────────────────
	violationRepo := repository.NewViolationRepository(pool)
	outcomeRepo := repository.NewOutcomeRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	journalService := service.NewJournalService(rdb, log)
	proctorService := service.NewProctorService(violationRepo, outcomeRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	stats := &handler.ScreenStats{}
	handlers := &router.Handlers{
		WS:      handler.NewWSHandler(dir, journalService, stats, cfg, log),
		Proctor: handler.NewProctorHandler(rdb, proctorService, cfg.MonitorRefresh, log),
		System:  handler.NewSystemHandler(rdb, stats, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	retryDelay := cfg.SubmitRetryDelay
	if retryDelay < recoveryRetryFloor {
		retryDelay = recoveryRetryFloor
	}

	violationWorker := worker.NewViolationWorker(pool, rdb, log)
	outcomeWorker := worker.NewOutcomeWorker(pool, rdb, log)
	recoveryWorker := worker.NewRecoveryWorker(rdb, dir, journalService, retryDelay, log)

	var workers errgroup.Group
	workers.Go(func() error { violationWorker.Start(workerCtx); return nil })
	workers.Go(func() error { outcomeWorker.Start(workerCtx); return nil })
	workers.Go(func() error { recoveryWorker.Start(workerCtx); return nil })

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, rdb, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
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

	// 1. Stop accepting new HTTP requests (5s timeout).
	// Hijacked WebSocket connections are not tracked by Shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for their final flush.
	workerCancel()
	_ = workers.Wait()

	log.Info().Msg("Shutdown complete")
}
