package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/infragen/internal/api"
	"github.com/p-blackswan/infragen/internal/config"
	"github.com/p-blackswan/infragen/internal/health"
	"github.com/p-blackswan/infragen/internal/llm"
	"github.com/p-blackswan/infragen/internal/metrics"
	"github.com/p-blackswan/infragen/internal/modules"
	"github.com/p-blackswan/infragen/internal/notify"
	"github.com/p-blackswan/infragen/internal/pipeline"
	"github.com/p-blackswan/infragen/internal/prompts"
	"github.com/p-blackswan/infragen/internal/stage"
	"github.com/p-blackswan/infragen/internal/store"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("http_addr", cfg.HTTPAddr).
		Str("llm_provider", cfg.LLMProvider).
		Bool("history_enabled", cfg.HistoryEnabled()).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting infragen")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	gen, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init generation service")
	}

	catalog, err := prompts.Default()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load prompt catalog")
	}

	m := metrics.New()
	checker := health.NewChecker(logger)
	runner := stage.NewRunner(gen, catalog, m, logger)

	opts := []pipeline.Option{
		pipeline.WithMetrics(m),
		pipeline.WithModuleLoader(modules.NewLoader(logger,
			modules.WithMaxFiles(cfg.ModuleMaxFiles),
			modules.WithMaxFileBytes(cfg.ModuleMaxFileBytes),
		)),
	}

	var wg sync.WaitGroup

	// Run history (optional)
	var history api.History
	if cfg.HistoryEnabled() {
		db, err := store.New(cfg.DatabasePath, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open run history")
		}
		defer db.Close()

		checker.Register("store", health.PingCheck(db.Ping))
		opts = append(opts, pipeline.WithRecorder(db))
		history = db

		wg.Add(1)
		go func() {
			defer wg.Done()
			db.RunRetention(ctx, cfg.HistoryRetention, time.Hour, m)
		}()
	}

	// Slack run summaries (optional)
	if cfg.SlackEnabled() {
		opts = append(opts, pipeline.WithNotifier(notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel, logger)))
	}

	engine := pipeline.New(runner, logger, opts...)

	server := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.HTTPAddr,
		AuthConfig: api.AuthConfig{
			Mode:   cfg.APIAuthMode,
			APIKey: cfg.APIKey,
		},
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.APIRateLimitRPS,
			Burst: cfg.APIRateLimitBurst,
		},
		CORSOrigins: cfg.APICORSOrigins,
		BodyLimit:   cfg.MaxUploadBytes,
	}, api.Deps{
		Pipeline:   engine,
		History:    history,
		Checker:    checker,
		Metrics:    m,
		Defaults:   cfg.DefaultAgentConfig(),
		RunContext: ctx,
	}, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	// In-flight runs see the cancellation at their next generation call;
	// their terminal state is still recorded.
	cancel()

	done := make(chan struct{})
	go func() {
		engine.Wait()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("shutdown timed out")
	}
}

func newGenerator(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (llm.Generator, error) {
	switch cfg.LLMProvider {
	case "anthropic":
		return llm.NewAnthropicProvider(cfg.AnthropicAPIKey,
			llm.WithModel(cfg.AnthropicModel),
			llm.WithLogger(logger),
		), nil
	default:
		return llm.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	}
}
