package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"docqa/internal/util"
	"docqa/services/worker/internal/app"
	"docqa/services/worker/internal/config"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := util.InitLogger(cfg.LogLevel, "worker", cfg.LogsDir)
	if cleanup != nil {
		defer cleanup()
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:        cfg.DatabaseURL,
		QueueBackend:       cfg.QueueBackend,
		RabbitURL:          cfg.RabbitURL,
		RedisAddr:          cfg.RedisAddr,
		RedisPassword:      cfg.RedisPassword,
		QueueName:          cfg.QueueName,
		QueueConcurrency:   cfg.QueueConcurrency,
		QueuePrefetch:      cfg.QueuePrefetch,
		SearchLimit:        cfg.SearchLimit,
		RerankTopN:         cfg.RerankTopN,
		RatePerThousand:    cfg.RatePerThousand,
		SystemPrompt:       cfg.SystemPrompt,
		GeminiAPIKey:       cfg.GeminiAPIKey,
		EmbeddingProvider:  cfg.EmbeddingProvider,
		EmbeddingBaseURL:   cfg.EmbeddingBaseURL,
		EmbeddingModel:     cfg.EmbeddingModel,
		EmbeddingDim:       cfg.EmbeddingDim,
		GenerationProvider: cfg.GenerationProvider,
		GenerationBaseURL:  cfg.GenerationBaseURL,
		GenerationModel:    cfg.GenerationModel,
		GenerationAPIKey:   cfg.GenerationAPIKey,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCore.Start(ctx)
	slog.Info("query worker started", "queue", cfg.QueueName, "concurrency", cfg.QueueConcurrency)

	var srv *http.Server
	if cfg.Port != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		srv = &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("query worker shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	if err := appCore.Close(); err != nil {
		logger.Warn("close worker", "err", err)
	}
}
