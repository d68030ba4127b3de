package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/reelcut/internal/api"
	"github.com/bobarin/reelcut/internal/config"
	"github.com/bobarin/reelcut/internal/db"
	"github.com/bobarin/reelcut/internal/export"
	"github.com/bobarin/reelcut/internal/logging"
	"github.com/bobarin/reelcut/internal/media"
	"github.com/bobarin/reelcut/internal/queue"
	"github.com/bobarin/reelcut/internal/scene"
	"github.com/bobarin/reelcut/internal/services"
	"github.com/bobarin/reelcut/internal/storage"
	"github.com/bobarin/reelcut/internal/worker"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component("main")

	log.Info().Msg("Starting Reelcut API...")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()
	log.Info().Msg("Connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to queue")
	}
	defer q.Close()
	log.Info().Msg("Connected to Redis queue")

	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket, logging.Component("storage"))
	log.Info().Str("bucket", cfg.SupabaseStorageBucket).Msg("Initialized Supabase storage")

	handler := api.NewHandler(database, q, stor, logging.Component("api"))
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
		Logger:             logging.Component("http"),
	})

	if cfg.BackendAPIKey != "" {
		log.Info().Str("key", logging.SanitizeToken(cfg.BackendAPIKey)).Msg("API key authentication enabled")
	} else {
		log.Warn().Msg("No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	var workerCancel context.CancelFunc
	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		log.Info().Msg("Worker enabled, starting background exports...")

		ffmpegSvc := services.NewFFmpegService(cfg.FFmpegPath, logging.Component("ffmpeg"))

		// Leave the aligner a nil interface when alignment is off
		var aligner scene.Aligner
		if cfg.OpenAIKey != "" {
			aligner = services.NewWhisperAligner(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.AlignLanguage, logging.Component("whisper"))
			log.Info().Str("language", cfg.AlignLanguage).Msg("Whisper word alignment enabled")
		}

		w := worker.New(database, q, worker.Options{
			NewLoader: func(scratchDir string) export.Loader {
				return media.NewLoader(media.Options{
					ProxyURL:   cfg.AssetProxyURL,
					ScratchDir: scratchDir,
					Clips:      ffmpegSvc,
					Audio:      ffmpegSvc,
					Logger:     logging.Component("loader"),
				})
			},
			Aligner:     aligner,
			Environment: ffmpegSvc.ProbeEnvironment,
			NewSaver: func(projectID, exportID uuid.UUID) export.Saver {
				return &storage.ExportSaver{Storage: stor, ProjectID: projectID, ExportID: exportID}
			},
			SignAsset: func(ctx context.Context, key string) (string, error) {
				return stor.GetSignedURL(ctx, key, 3600, "")
			},
			ScratchDir:  cfg.ExportTempDir,
			MusicGain:   cfg.MusicVolume,
			SeekTimeout: cfg.SeekTimeout,
		}, logging.Component("worker"))

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go func() {
			defer close(workerDone)
			w.Start(workerCtx, cfg.MaxConcurrentExports)
		}()
	} else {
		close(workerDone)
	}

	go func() {
		log.Info().Str("port", cfg.APIPort).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Running exports observe the cancel and keep what they encoded
	if workerCancel != nil {
		workerCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	select {
	case <-workerDone:
	case <-ctx.Done():
		log.Warn().Msg("Worker did not stop in time")
	}

	log.Info().Msg("Server exited")
}
