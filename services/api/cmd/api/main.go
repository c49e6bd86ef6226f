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

	"docqa/internal/ratelimit"
	"docqa/internal/usertoken"
	"docqa/internal/util"
	"docqa/pkg/queue"
	"docqa/pkg/storage"
	"docqa/pkg/store"
	"docqa/services/api/internal/app"
	"docqa/services/api/internal/config"
	"docqa/services/api/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := util.InitLogger(cfg.LogLevel, "api", cfg.LogsDir)
	if cleanup != nil {
		defer cleanup()
	}

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init postgres store", "err", err)
	}
	objects, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		util.Fatal("failed to init object storage", "err", err)
	}
	documentQueue, err := queue.Open(queue.BackendConfig{
		Backend:       cfg.DocumentQueue,
		Name:          queueName(cfg.DocumentQueueName, "docqa:documents"),
		RabbitURL:     cfg.RabbitURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		Group:         "indexer",
	}, queue.BackendRedis)
	if err != nil {
		util.Fatal("failed to init document queue", "err", err)
	}
	defer documentQueue.Close()
	queryQueue, err := queue.Open(queue.BackendConfig{
		Backend:       cfg.QueryQueue,
		Name:          queueName(cfg.QueryQueueName, "docqa.queries"),
		RabbitURL:     cfg.RabbitURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		Group:         "worker",
		MaxRetries:    1,
	}, queue.BackendRabbitMQ)
	if err != nil {
		util.Fatal("failed to init query queue", "err", err)
	}
	defer queryQueue.Close()

	appCore, err := app.New(app.Config{
		Store:          dataStore,
		Objects:        objects,
		DocumentQueue:  documentQueue,
		QueryQueue:     queryQueue,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	verifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("invalid trusted proxies", "err", err)
	}
	srvCfg := server.Config{App: appCore, TokenVerifier: verifier, TrustedProxies: trusted}
	if cfg.QueryRatePerMinute > 0 {
		limiter, err := ratelimit.NewFixedWindowLimiter(ratelimit.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   "docqa:api:ratelimit",
			Limit:    cfg.QueryRatePerMinute,
			Window:   time.Minute,
		})
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
		defer limiter.Close()
		srvCfg.QueryLimiter = limiter
	}
	httpServer, err := server.New(srvCfg)
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      httpServer.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("api server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func queueName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
