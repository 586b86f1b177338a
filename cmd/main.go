package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avastel/mediavault-backend/internal/app"
	"github.com/avastel/mediavault-backend/internal/broker"
	"github.com/avastel/mediavault-backend/internal/data/repos"
	"github.com/avastel/mediavault-backend/internal/db"
	"github.com/avastel/mediavault-backend/internal/handlers"
	"github.com/avastel/mediavault-backend/internal/jobs"
	"github.com/avastel/mediavault-backend/internal/observability"
	"github.com/avastel/mediavault-backend/internal/pipeline"
	"github.com/avastel/mediavault-backend/internal/platform/envutil"
	"github.com/avastel/mediavault-backend/internal/platform/logger"
	"github.com/avastel/mediavault-backend/internal/render"
	"github.com/avastel/mediavault-backend/internal/server"
	"github.com/avastel/mediavault-backend/internal/services"
)

func main() {
	// Logger
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	log.Info("Loading configuration from main...")
	cfg := app.LoadConfig()
	consumer, _ := os.Hostname()
	if consumer == "" {
		consumer = "mediavault"
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Broker
	log.Info("Setting up broker from main...")
	bus, err := broker.NewRedisBroker(log)
	if err != nil {
		log.Error("Redis broker init failed", "error", err)
		os.Exit(1)
	}

	// Repos
	log.Info("Setting up Repos from main...")
	collectionRepo := repos.NewCollectionRepo(thePG, log)
	ledgerRepo := repos.NewProgressLedgerRepo(thePG, log)
	folderStatRepo := repos.NewFolderStatRepo(thePG, log)

	// Counters
	counters := observability.NewCounters()

	// Renderer
	log.Info("Setting up renderer from main...")
	budget := render.NewMemoryBudget(cfg.MemoryBudgetBytes)
	scaler := render.NewImageScaler(log)
	renderer := render.NewBudgetedRenderer(scaler, budget, cfg.MaxSourceBytes, cfg.MaxArchiveSourceBytes, log)

	// Pipeline
	log.Info("Setting up pipeline from main...")
	writer := pipeline.NewBatchWriter(log, collectionRepo, folderStatRepo, cfg.VariantRoot)
	orchestrator := pipeline.NewOrchestrator(thePG, log, collectionRepo, ledgerRepo, bus, cfg.Settings, cfg.PublishBatch)
	sweep := pipeline.NewRecoverySweep(pipeline.SweepConfig{
		StaleTimeout:   cfg.StaleTimeout,
		FailMultiplier: cfg.FailMultiplier,
		WallClock:      cfg.SweepWallClock,
	}, log, ledgerRepo, orchestrator, counters)
	safetyNet := pipeline.NewSafetyNet(pipeline.SafetyNetConfig{
		Consumer: consumer,
	}, log, bus, counters)

	collectorFor := func(stream string) *pipeline.BatchCollector {
		return pipeline.NewBatchCollector(pipeline.CollectorConfig{
			Stream:      stream,
			Group:       "variant-workers",
			Consumer:    consumer,
			MaxBatch:    cfg.BatchMax,
			IdleFlush:   cfg.BatchIdle,
			ReclaimIdle: cfg.ReclaimIdle,
			MaxAttempts: cfg.MaxAttempts,
			Parallelism: cfg.Parallelism,
		}, log, bus, renderer, writer, ledgerRepo, collectionRepo, counters)
	}
	thumbCollector := collectorFor(broker.StreamThumbnail)
	cacheCollector := collectorFor(broker.StreamCache)

	// Startup recovery: resume whatever the last process left unfinished
	// before new work starts flowing.
	if _, err := sweep.Run(context.Background()); err != nil {
		log.Warn("Startup recovery sweep failed", "error", err)
	}

	// Workers
	log.Info("Setting up workers from main...")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supervisor := jobs.NewSupervisor(log)
	supervisor.Add("thumbnail-collector", thumbCollector.Run)
	supervisor.Add("cache-collector", cacheCollector.Run)
	supervisor.Add("safety-net", safetyNet.Run)
	supervisor.AddPeriodic("recovery-sweep", cfg.SweepInterval, func(ctx context.Context) error {
		_, err := sweep.Run(ctx)
		return err
	})
	supervisor.Start(ctx)

	go func() {
		for err := range supervisor.Errors() {
			log.Warn("Worker error", "error", err)
		}
	}()

	// Services
	log.Info("Setting up Services from main...")
	adminService := services.NewAdminService(thePG, log, ledgerRepo, orchestrator, sweep)

	// Handlers
	log.Info("Setting up handlers from main...")
	ledgersHandler := handlers.NewLedgersHandler(adminService)
	healthHandler := handlers.NewHealthHandler(counters)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		LedgersHandler: ledgersHandler,
		HealthHandler:  healthHandler,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		log.Info("Server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown failed", "error", err)
	}

	// Collectors flush buffered batches and finish in-flight writes before
	// Wait returns; unacked messages are redelivered on the next start.
	supervisor.Wait()
	log.Info("Shutdown complete")
}
