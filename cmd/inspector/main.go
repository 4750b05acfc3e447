package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tvidz/inspector/internal/analysis"
	"github.com/tvidz/inspector/internal/api"
	"github.com/tvidz/inspector/internal/config"
	"github.com/tvidz/inspector/internal/db"
	"github.com/tvidz/inspector/internal/detect"
	"github.com/tvidz/inspector/internal/fetch"
	"github.com/tvidz/inspector/internal/logging"
	"github.com/tvidz/inspector/internal/match"
	"github.com/tvidz/inspector/internal/session"
	"github.com/tvidz/inspector/internal/video"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// Optional local overrides; the environment wins in containers.
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ScratchDir(), 0755); err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting inspector",
		"version", config.Version,
		"data_dir", cfg.DataDir(),
		"db_driver", cfg.DBDriver(),
	)

	database, err := db.New(cfg.DBDriver(), cfg.DBDSN(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := video.NewRepository(database)

	detector, err := detect.New(detect.Config{
		ScratchDir:     cfg.ScratchDir(),
		SceneThreshold: cfg.SceneThreshold(),
		ProbeTimeout:   cfg.ProbeTimeout(),
		DetectTimeout:  cfg.DetectTimeout(),
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scene detector: %w", err)
	}

	fetcher, err := fetch.NewHTTPFetcher(cfg.StorageEndpoint(), cfg.ScratchDir(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize fetcher: %w", err)
	}

	index := match.NewIndex(repo, cfg.MinMatch(), cfg.MatchEpsilon(), logger)
	sessions := session.NewStore()

	svc := analysis.NewService(sessions, repo, detector, index, fetcher, logger)
	defer svc.Close()

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Service:    svc,
		Publisher:  analysis.NewPublisher(sessions, cfg.PublishInterval()),
		Sessions:   sessions,
		Repository: repo,
		Logger:     logger,
		StartTime:  startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
