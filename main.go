package main

import (
	"context"
	"errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"log"
	"net/http"
	"os/signal"
	"parcel-tracking-service/api"
	"parcel-tracking-service/config"
	"parcel-tracking-service/core"
	"parcel-tracking-service/workers/parcel"
	"parcel-tracking-service/workers/parcel/coordinator"
	"parcel-tracking-service/workers/parcel/repositories"
	"syscall"
	"time"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := core.NewLogger(*cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchestrator := core.NewOrchestrator(logger, nil)

	registryOpts := []parcel.RegistryOption{
		parcel.WithSchedulerTick(cfg.SchedulerTick),
		parcel.WithRetrySchedule(cfg.SetupRetrySchedule),
	}

	var history api.HistoryReader
	if cfg.DSN != "" {
		db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}

		repo := repositories.NewRepository(db)
		if err := repo.Migrate(); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}

		registryOpts = append(registryOpts, parcel.WithHistory(repo))
		history = repo
	}

	registry := parcel.NewRegistry(orchestrator, logger, registryOpts...)
	defer registry.Close()

	if _, err := orchestrator.Register(registry); err != nil {
		logger.Fatal("Failed to schedule setup retries", zap.Error(err))
	}

	if _, err := orchestrator.Start(ctx); err != nil {
		logger.Fatal("Failed to start orchestrator", zap.Error(err))
	}

	entry := parcel.NewEntry(cfg.ParcelApi)
	if err := registry.Add(ctx, entry); err != nil {
		if !errors.Is(err, coordinator.ErrNotReady) {
			logger.Fatal("Failed to add entry", zap.Error(err))
		}
		logger.Warn("Parcel entry not ready yet, setup will be retried", zap.String("entry", entry.ID))
	}

	router := api.NewRouter(api.Options{
		Logger:   logger,
		Registry: registry,
		History:  history,
	})

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := router.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for termination signal to exit gracefully
	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	select {
	case <-orchestrator.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for running jobs")
	}
}
