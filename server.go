package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coachdev/cache"
	"coachdev/coach"
	"coachdev/config"
	"coachdev/evaluation"
	"coachdev/httpapi"
	"coachdev/logger"
	"coachdev/modelapi/deepgramapi"
	"coachdev/modelapi/ollamaapi"
	"coachdev/session"
	"coachdev/settings"
	"coachdev/telegram"
	"coachdev/transcription"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperdxio/opentelemetry-logs-go/exporters/otlp/otlplogs"
	sdk "github.com/hyperdxio/opentelemetry-logs-go/sdk/logs"
	"github.com/hyperdxio/otel-config-go/otelconfig"
)

func main() {
	godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := settings.Load(ctx)
	if err != nil {
		log.Fatalf("Error loading settings - %v", err)
	}

	model := flag.String("model", cfg.ModelName, "LLM model to use (e.g., 'mistral', 'llama-13b').")
	flag.Parse()
	cfg.ModelName = *model

	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		log.Fatalf("Error setting up OTel SDK - %v", err)
	}
	defer otelShutdown()

	var loggerProvider *sdk.LoggerProvider
	if cfg.Production {
		logExporter, err := otlplogs.NewExporter(ctx)
		if err != nil {
			log.Fatalf("Error setting up log exporter - %v", err)
		}
		loggerProvider = sdk.NewLoggerProvider(sdk.WithBatcher(logExporter))
		defer loggerProvider.Shutdown(context.Background())
	}

	LogMiddleware := logger.Connect(logger.LoggerConnectProps{Production: cfg.Production, LoggerProvider: loggerProvider})
	defer LogMiddleware.Sync()
	Logger := LogMiddleware.Logger(ctx)

	coachConfig, err := config.Load(ctx, config.LoadProps{Path: cfg.ConfigPath, Logger: LogMiddleware})
	if err != nil {
		Logger.Fatal("[Config] Could not load coaching configuration", zap.Error(err))
	}

	llm := ollamaapi.Connect(ctx, ollamaapi.OllamaConnectProps{
		Logger:     LogMiddleware,
		Model:      cfg.ModelName,
		BaseURL:    cfg.LLMBaseURL,
		APIKey:     cfg.LLMAPIKey,
		MaxWorkers: cfg.LLMMaxWorkers,
		MaxTokens:  cfg.LLMMaxTokens,
	})

	responseCache, err := cache.New(cache.ResponseCacheProps{
		Capacity:  cfg.CacheSize,
		Generator: llm,
		Logger:    LogMiddleware,
	})
	if err != nil {
		Logger.Fatal("[Cache] Could not create response cache", zap.Error(err))
	}

	deepgramClient := deepgramapi.Connect(deepgramapi.DeepgramConnectProps{Logger: LogMiddleware, Language: cfg.DeepgramLanguage})

	coachService := coach.New(coach.CoachProps{
		Logger: LogMiddleware,
		Evaluator: evaluation.NewDispatcher(evaluation.DispatcherProps{
			Templates: coachConfig,
			Cache:     responseCache,
			Logger:    LogMiddleware,
		}),
		Transcriber: transcription.NewAdapter(transcription.AdapterProps{
			Logger:       LogMiddleware,
			SpeechToText: deepgramClient,
			FFmpegBinary: cfg.FFmpegPath,
			TempDir:      cfg.TmpDir,
		}),
		Sessions: session.NewStore(coachConfig),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewRouter(httpapi.HandlerProps{Logger: LogMiddleware, Coach: coachService}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if cfg.Production {
		Logger.Info("[Server] Coach starting in production mode", zap.String("model", llm.Model()), zap.String("port", cfg.Port))
	} else {
		Logger.Info("[Server] Coach starting in development mode", zap.String("model", llm.Model()), zap.String("port", cfg.Port))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.TelegramBotToken != "" {
		bot, err := telegram.Connect(ctx, telegram.TelegramConnectProps{
			Logger: LogMiddleware,
			Coach:  coachService,
			Token:  cfg.TelegramBotToken,
			Debug:  cfg.TelegramDebug,
		})
		if err != nil {
			Logger.Fatal("[Telegram] Could not start bot", zap.Error(err))
		}
		g.Go(func() error { return bot.Listen(gctx) })
	} else {
		Logger.Info("[Telegram] TELEGRAM_BOT_TOKEN not set, bot disabled")
	}

	if err := g.Wait(); err != nil {
		Logger.Error("[Server] Stopped with error", zap.Error(err))
		os.Exit(1)
	}

	stats := responseCache.Stats()
	Logger.Info("[Server] Stopped",
		zap.Int("cache_entries", stats.Entries),
		zap.Int64("cache_hits", stats.Hits),
		zap.Int64("cache_misses", stats.Misses),
	)
}
