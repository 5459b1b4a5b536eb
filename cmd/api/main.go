package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/astra/backend/internal/audio"
	"github.com/zhouzirui/astra/backend/internal/config"
	"github.com/zhouzirui/astra/backend/internal/events"
	"github.com/zhouzirui/astra/backend/internal/handler"
	"github.com/zhouzirui/astra/backend/internal/logging"
	"github.com/zhouzirui/astra/backend/internal/model/persona"
	"github.com/zhouzirui/astra/backend/internal/service/ai"
	"github.com/zhouzirui/astra/backend/internal/service/chat"
	"github.com/zhouzirui/astra/backend/internal/service/memory"
	"github.com/zhouzirui/astra/backend/internal/service/orchestrator"
	"github.com/zhouzirui/astra/backend/internal/service/speech"
	"github.com/zhouzirui/astra/backend/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New(logging.Config{Format: "console"})
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, continuing with system environment variables only")
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("failed to open storage")
	}
	repo := storage.NewRepository(store, logging.Component(logger, "storage"))

	personaStore := persona.NewMemoryStore(persona.Seed())
	if cfg.Persona.File != "" {
		if err := personaStore.LoadOverrides(cfg.Persona.File); err != nil {
			logger.Warn().Err(err).Str("file", cfg.Persona.File).Msg("ignoring persona overrides")
		}
	}

	generator := newGenerator(ctx, cfg.AI, logger)
	synthesizer := newSynthesizer(cfg.Speech, logger)

	runner := orchestrator.New(generator, synthesizer, personaStore, cfg.AI.HistoryLimit, logging.Component(logger, "orchestrator"))

	bus := events.NewBus(logging.Component(logger, "events"))
	session := chat.NewService(ctx, chat.Options{
		Repository:    repo,
		Runner:        runner,
		Personas:      personaStore,
		Audio:         audio.NewRuntime(),
		Events:        bus,
		FPS:           cfg.Audio.FPS,
		LearningFlash: memory.DefaultFlash,
		Logger:        logging.Component(logger, "session"),
	})

	router := handler.NewRouter(session, bus, logging.Component(logger, "http"))

	err = startServer(ctx, cfg.Server, router, logger)

	session.Close()
	if err := bus.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close event bus")
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close storage")
		}
	}

	if err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func newGenerator(ctx context.Context, cfg config.AIConfig, logger zerolog.Logger) ai.Generator {
	if !cfg.Enabled() {
		logger.Warn().Msg("Ark 凭证未配置，所有回合将以错误结束")
		return ai.Unavailable{}
	}

	svc, err := ai.NewService(ctx, cfg, logging.Component(logger, "ai"))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialize AI service - 请检查 Ark 模型相关环境变量")
		return ai.Unavailable{}
	}
	logger.Info().Str("model", cfg.Model).Msg("AI service initialized")
	return svc
}

func newSynthesizer(cfg config.SpeechConfig, logger zerolog.Logger) speech.Synthesizer {
	if !cfg.Enabled {
		logger.Info().Msg("语音服务凭证未配置，回复将不带语音")
		return speech.Silent{}
	}

	speechLogger := logging.Component(logger, "speech")
	client := speech.NewVolcengineTTSClient(cfg.ClientConfig(), speechLogger)
	logger.Info().Str("endpoint", cfg.Endpoint).Msg("speech service initialized")
	return speech.NewService(client, cfg.SampleRate, speechLogger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("Astra backend listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
