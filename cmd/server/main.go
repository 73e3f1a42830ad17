package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/repository/memory"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

// backend is the storage wiring selected by STORE_DRIVER.
type backend struct {
	store      service.Store
	catalog    service.ExamCatalog
	enrollment service.EnrollmentChecker
	audit      worker.AuditSink
	recorder   service.AuditRecorder
	close      func()
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Storage ───────────────────────────────────────────────────────
	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer be.close()

	// ─── Anomaly Policy ────────────────────────────────────────────────
	p, err := config.LoadAnomalyPolicy(cfg.PolicyFile, cfg.AutoLockThreshold)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load anomaly policy")
	}
	policy := service.NewThresholdPolicy(p.Threshold, p.Weights)
	log.Info().Int("threshold", policy.Threshold).Msg("Anomaly policy loaded")

	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	startWorker := func(run func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(workerCtx)
		}()
	}

	// ─── Connect to Redis (optional) ───────────────────────────────────
	var rdb *redis.Client
	catalog := be.catalog
	recorder := be.recorder
	sinks := service.MultiSink{}

	if cfg.RedisURL != "" {
		rdb, err = database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()

		cached := service.NewCachedCatalog(be.catalog, rdb, cfg.CatalogCacheTTL, log)
		catalog = cached
		recorder = worker.NewAuditQueue(rdb, be.audit, log)
		sinks = append(sinks, worker.NewMonitorPublisher(rdb, log))

		auditWorker := worker.NewAuditWorker(rdb, be.audit, log)
		startWorker(auditWorker.Start)
	} else {
		log.Warn().Msg("REDIS_URL not set: audit is written synchronously and the monitor stream is disabled")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret)
	sessionService := service.NewSessionService(be.store, catalog, be.enrollment, recorder, nil, log)
	heartbeatService := service.NewHeartbeatService(sessionService, policy, log)
	lockService := service.NewLockService(sessionService)
	accommodationService := service.NewAccommodationService(sessionService)
	answerService := service.NewAnswerService(sessionService)

	// ─── Timer Broadcaster ─────────────────────────────────────────────
	broadcaster := worker.NewTimerBroadcaster(sessionService, be.store, cfg.TimerTick, log)
	sinks = append(sinks, broadcaster)
	sessionService.SetEventSink(sinks)
	startWorker(broadcaster.Start)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessionService, heartbeatService, answerService, log),
		Teacher: handler.NewTeacherHandler(sessionService, lockService, accommodationService, log),
		Monitor: handler.NewMonitorHandler(rdb, sessionService, log),
		WS:      handler.NewWSHandler(broadcaster, sessionService, log, cfg.AllowedOrigins),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(workerCtx, authService, handlers, cfg)

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
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the broadcaster and drain the audit queue.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

func openBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		store := memory.NewStore()
		catalog := memory.NewCatalog()
		if cfg.SeedFile != "" {
			if err := memory.LoadSeed(cfg.SeedFile, catalog); err != nil {
				return nil, err
			}
			log.Info().Str("file", cfg.SeedFile).Msg("Catalog seeded")
		}
		return &backend{
			store:      store,
			catalog:    catalog,
			enrollment: catalog,
			audit:      store,
			recorder:   store,
			close:      func() {},
		}, nil

	default:
		if cfg.MigrateOnStart {
			if err := database.MigrateUp(cfg.MigrationsDir, cfg.DatabaseURL, log); err != nil {
				return nil, err
			}
		}
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		catalog := repository.NewCatalogRepository(pool)
		audit := repository.NewAuditRepository(pool)
		return &backend{
			store:      repository.NewStore(pool),
			catalog:    catalog,
			enrollment: catalog,
			audit:      audit,
			recorder:   audit,
			close:      pool.Close,
		}, nil
	}
}
