package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opshift/ragrelay/internal/api"
	"github.com/opshift/ragrelay/internal/chat"
	"github.com/opshift/ragrelay/internal/config"
	"github.com/opshift/ragrelay/internal/database"
	"github.com/opshift/ragrelay/internal/dispatch"
	"github.com/opshift/ragrelay/internal/notify"
	"github.com/opshift/ragrelay/internal/queue"
	"github.com/opshift/ragrelay/internal/rabbit"
	"github.com/opshift/ragrelay/internal/registry"
	"github.com/opshift/ragrelay/internal/tokens"
	"github.com/opshift/ragrelay/internal/vectorstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	var cache tokens.Cache
	if cfg.Auth.TokenCache == "redis" {
		cache = tokens.NewRedisCache(rdb, cfg.Auth.TokenTTL)
	} else {
		cache = tokens.NewMemoryCache(cfg.Auth.TokenTTL)
	}
	tokenStore := tokens.NewStore(db, cache)

	taskClient := queue.NewClient(cfg.Redis)
	defer taskClient.Close()

	retryStore := dispatch.NewPgStore(db, cfg.Retry.MaxAttempts)
	dispatcher := dispatch.NewDispatcher(retryStore, taskClient, cfg.Processor.Timeout)

	vectors := vectorstore.NewPgVectorStore(db, cfg.Embedding.Dimension)
	docs := registry.NewService(db, tokenStore, vectors, dispatcher,
		cfg.Embedding.Dimension, cfg.Processor.WebhookURL, cfg.Server.PublicBaseURL)

	hub := notify.NewHub()

	var publisher chat.RequestPublisher
	if cfg.Processor.ChatTransport == chat.TransportQueue {
		conn, err := rabbit.Dial(cfg.Rabbit.URL)
		if err != nil {
			slog.Error("connect rabbitmq", "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		publisher = rabbit.NewPublisher(conn, cfg.Rabbit.Exchange)
	}

	chats := chat.NewService(db, tokenStore, dispatcher, publisher, hub,
		cfg.Processor.ChatTransport, cfg.Processor.WebhookURL, cfg.Server.PublicBaseURL)

	router := api.NewRouter(api.Deps{
		DB:       db,
		Redis:    rdb,
		Config:   cfg,
		Registry: docs,
		Chats:    chats,
		Vectors:  vectors,
		Tokens:   tokenStore,
		Hub:      hub,
		Traffic:  taskClient,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("api server starting", "addr", cfg.Addr(), "chat_transport", cfg.Processor.ChatTransport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}

	// Persist anything still buffered as pending webhooks before exit.
	dispatcher.Close()
}
