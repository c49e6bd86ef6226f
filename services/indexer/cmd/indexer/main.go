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
	"docqa/services/indexer/internal/app"
	"docqa/services/indexer/internal/config"
	"docqa/services/indexer/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := util.InitLogger(cfg.LogLevel, "indexer", cfg.LogsDir)
	if cleanup != nil {
		defer cleanup()
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:            cfg.DatabaseURL,
		MinioEndpoint:          cfg.MinioEndpoint,
		MinioAccessKey:         cfg.MinioAccessKey,
		MinioSecretKey:         cfg.MinioSecretKey,
		MinioBucket:            cfg.MinioBucket,
		MinioUseSSL:            cfg.MinioUseSSL,
		QueueBackend:           cfg.QueueBackend,
		RabbitURL:              cfg.RabbitURL,
		RedisAddr:              cfg.RedisAddr,
		RedisPassword:          cfg.RedisPassword,
		QueueName:              cfg.QueueName,
		QueueGroup:             cfg.QueueGroup,
		QueueConcurrency:       cfg.QueueConcurrency,
		QueueMaxRetries:        cfg.QueueMaxRetries,
		QueueRetryDelaySeconds: cfg.QueueRetryDelaySeconds,
		ChunkSize:              cfg.ChunkSize,
		ChunkOverlap:           cfg.ChunkOverlap,
		MaxFileBytes:           cfg.MaxFileBytes,
		MaxPages:               cfg.MaxPages,
		GeminiAPIKey:           cfg.GeminiAPIKey,
		EmbeddingProvider:      cfg.EmbeddingProvider,
		EmbeddingBaseURL:       cfg.EmbeddingBaseURL,
		EmbeddingModel:         cfg.EmbeddingModel,
		EmbeddingDim:           cfg.EmbeddingDim,
		EmbeddingBatchSize:     cfg.EmbeddingBatchSize,
		EmbeddingConcurrency:   cfg.EmbeddingConcurrency,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	appCore.Start(ctx)

	httpServer := server.New(server.Config{App: appCore, InternalToken: cfg.InternalToken})
	port := cfg.Port
	if port == "" {
		port = "8085"
	}
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("indexer server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
	stop()
	if err := appCore.Close(); err != nil {
		logger.Warn("close queue", "err", err)
	}
}
