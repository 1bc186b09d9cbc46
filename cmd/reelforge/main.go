package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/heimdex/reelforge/internal/api"
	"github.com/heimdex/reelforge/internal/cloud"
	"github.com/heimdex/reelforge/internal/config"
	"github.com/heimdex/reelforge/internal/db"
	"github.com/heimdex/reelforge/internal/generation"
	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/pipeline"
	"github.com/heimdex/reelforge/internal/playback"
	"github.com/heimdex/reelforge/internal/progress"
	"github.com/heimdex/reelforge/internal/project"
	"github.com/heimdex/reelforge/internal/queue"
	"github.com/heimdex/reelforge/internal/render"
	"github.com/heimdex/reelforge/internal/storage"
	"github.com/heimdex/reelforge/internal/transcode"
	"github.com/heimdex/reelforge/internal/workdir"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.MediaDir(), cfg.WorkDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting reelforge", "version", config.Version, "data_dir", cfg.DataDir())

	if cfg.GeneratorBaseURL() == "" {
		return fmt.Errorf("%s is required", config.EnvGeneratorBaseURL)
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := project.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}
	fmt.Printf("\nreelforge %s\n  API URL:    http://127.0.0.1:%d\n  Auth Token: %s\n\n", config.Version, cfg.Port(), authToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	progressStore, closeProgress, err := newProgressStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeProgress()

	local, err := storage.NewLocalStore(cfg.MediaDir(), cfg.PublicBaseURL())
	if err != nil {
		return fmt.Errorf("failed to initialize media store: %w", err)
	}
	var store storage.Store = local
	if cfg.StorageBaseURL() != "" {
		store = cloud.NewHTTPStorage(cfg.StorageBaseURL(), cfg.StorageToken(), logger)
		logger.Info("remote object storage enabled", "base_url", logging.SanitizeURL(cfg.StorageBaseURL()))
	}

	transcoder := transcode.NewRunner(transcode.Config{
		FFmpegPath:   cfg.FFmpegPath(),
		Timeout:      cfg.TranscodeTimeout(),
		ProbeTimeout: 10 * time.Second,
		Logger:       logger,
	})
	probe := transcode.NewCachedProbe(transcoder, logger)
	if caps, err := probe.Refresh(ctx); err != nil {
		logger.Warn("ffmpeg unavailable, compilation will fail until it is installed", "error", err)
	} else {
		logger.Info("ffmpeg detected", "version", caps.Version, "path", caps.Path)
	}

	generator := cloud.NewHTTPGenerator(cfg.GeneratorBaseURL(), cfg.GeneratorToken(), cfg.GenerationPollInterval(), logger)
	worker := generation.NewWorker(repo, generator, cfg.GenerationConcurrency(), logger)

	compiler := render.NewRetryingCompiler(
		render.NewCompiler(repo, store, workdir.NewFS(cfg.WorkDir()), transcoder, progressStore, cfg.CompilerTimeout(), logger),
		render.RetryPolicy{
			Attempts:   cfg.CompileAttempts(),
			MinBackoff: cfg.CompileBackoffMin(),
			MaxBackoff: cfg.CompileBackoffMax(),
		},
		logger,
	)

	orchestrator := pipeline.NewOrchestrator(repo, worker, compiler, progressStore, pipeline.Options{
		ClipUnitCost: cfg.ClipUnitCost(),
		Timeout:      cfg.OrchestratorTimeout(),
	}, logger)

	runner := pipeline.NewRunner(repo, orchestrator, logger)
	go runner.Start(ctx)

	service := project.NewService(repo, logger)

	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		consumer, err := queue.NewConsumer(brokers, cfg.KafkaGroupID(), cfg.KafkaTopic(), service, runner, logger)
		if err != nil {
			return fmt.Errorf("failed to start kafka intake: %w", err)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("kafka intake stopped", "error", err)
			}
		}()
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Service:    service,
		Repository: repo,
		Progress:   progressStore,
		Runner:     runner,
		Probe:      probe,
		Media:      playback.NewServer(local, logger),
		Logger:     logger,
		StartTime:  startTime,
		Version:    config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// newProgressStore uses Redis when an address is configured and an
// in-process map otherwise.
func newProgressStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (progress.Store, func(), error) {
	if cfg.RedisAddr() == "" {
		logger.Info("progress kept in memory")
		return progress.NewMemoryStore(), func() {}, nil
	}

	client, err := progress.Connect(ctx, cfg.RedisAddr())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("progress kept in redis", "addr", cfg.RedisAddr(), "ttl", cfg.ProgressTTL())
	return progress.NewRedisStore(client, cfg.ProgressTTL()), func() { client.Close() }, nil
}

func ensureAuthToken(repo project.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
