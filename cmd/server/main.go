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

	"github.com/shortcast/shortcast-server/internal/api"
	"github.com/shortcast/shortcast-server/internal/background"
	"github.com/shortcast/shortcast-server/internal/captions"
	"github.com/shortcast/shortcast-server/internal/config"
	"github.com/shortcast/shortcast-server/internal/db"
	"github.com/shortcast/shortcast-server/internal/generate"
	"github.com/shortcast/shortcast-server/internal/logging"
	"github.com/shortcast/shortcast-server/internal/media"
	"github.com/shortcast/shortcast-server/internal/render"
	"github.com/shortcast/shortcast-server/internal/retry"
	"github.com/shortcast/shortcast-server/internal/settings"
	"github.com/shortcast/shortcast-server/internal/storage"
	"github.com/shortcast/shortcast-server/internal/tts"
)

var Version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.TempDir(), cfg.ClipCacheDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting shortcast server", "version", Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	tuning := cfg.Tuning()

	tool, err := media.NewTool(media.DefaultToolConfig(logging.WithComponent(logger, "media")))
	if err != nil {
		return fmt.Errorf("failed to initialize audio tool: %w", err)
	}
	doctor := media.NewCachedDoctor(media.NewToolDoctor(tool), logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial tool probe failed", "error", err)
	} else {
		logger.Info("audio tools detected",
			"ffmpeg", caps.FFmpegVersion,
			"ffprobe", caps.FFprobeVersion,
		)
	}
	initCancel()

	fitter := media.NewFitter(tool, tuning.Audio, logging.WithComponent(logger, "fit"))

	sttService := captions.NewHTTPWordTimingService(cfg.STTBaseURL(), cfg.STTAPIKey(), logger)
	transcriber := captions.NewTranscriber(
		sttService,
		retry.NewPolicy(tuning.Captions.RetryAttempts, tuning.Captions.RetryDelay(), tuning.Captions.STTModels),
		tuning.Captions.MaxAudioBytes,
		logging.WithComponent(logger, "transcribe"),
	)

	chatService := captions.NewHTTPChatService(cfg.LLMBaseURL(), cfg.LLMAPIKey(), logger)
	classifier := captions.NewClassifier(
		chatService,
		retry.NewPolicy(tuning.Captions.RetryAttempts, tuning.Captions.RetryDelay(), tuning.Captions.ClassifierModels),
		logging.WithComponent(logger, "classify"),
	)

	var clipCache *background.ClipCache
	if cache, err := background.OpenClipCache(cfg.ClipCacheDir(), logger); err != nil {
		logger.Warn("clip cache unavailable, probing every draw", "error", err)
	} else {
		clipCache = cache
		defer clipCache.Close()
	}
	sequencer := background.NewSequencer(tool, clipCache, logging.WithComponent(logger, "background"))

	orchestrator := generate.NewOrchestrator(generate.Deps{
		Synthesizer:    tts.NewClient(cfg.TTSBaseURL(), cfg.TTSAPIKey(), logger),
		Fitter:         fitter,
		Timer:          transcriber,
		Classifier:     classifier,
		Sequencer:      sequencer,
		Renderer:       render.NewClient(cfg.RenderBaseURL(), cfg.RenderTimeout(), logger),
		Store:          storage.NewClient(cfg.StorageBaseURL(), cfg.StorageToken(), logger),
		Jobs:           generate.NewRepository(database.Conn()),
		TempDir:        cfg.TempDir(),
		BackgroundsDir: cfg.BackgroundsDir(),
	}, logging.WithComponent(logger, "generate"))

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Generator:  orchestrator,
		Repository: generate.NewRepository(database.Conn()),
		Settings:   settings.NewSQLiteStore(database.Conn(), logger),
		Doctor:     doctor,
		Hub:        api.NewHub(),
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
