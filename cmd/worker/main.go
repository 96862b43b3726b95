package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/opshift/ragrelay/internal/chat"
	"github.com/opshift/ragrelay/internal/config"
	"github.com/opshift/ragrelay/internal/database"
	"github.com/opshift/ragrelay/internal/dispatch"
	"github.com/opshift/ragrelay/internal/queue"
	"github.com/opshift/ragrelay/internal/queue/workers"
	"github.com/opshift/ragrelay/internal/rabbit"
	"github.com/opshift/ragrelay/internal/tokens"
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

	cache := tokens.NewMemoryCache(cfg.Auth.TokenTTL)
	tokenStore := tokens.NewStore(db, cache)

	taskClient := queue.NewClient(cfg.Redis)
	defer taskClient.Close()

	retryStore := dispatch.NewPgStore(db, cfg.Retry.MaxAttempts)
	dispatcher := dispatch.NewDispatcher(retryStore, taskClient, cfg.Processor.Timeout)
	retryWorker := dispatch.NewRetryWorker(retryStore, tokenStore, dispatcher)

	// Queue transport: resolve processor responses arriving on the broker.
	// Live SSE viewers on the api process read the resolution back from the
	// database; no cross-process push.
	if cfg.Processor.ChatTransport == chat.TransportQueue {
		conn, err := rabbit.Dial(cfg.Rabbit.URL)
		if err != nil {
			slog.Error("connect rabbitmq", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		chats := chat.NewService(db, tokenStore, dispatcher, nil, nil,
			cfg.Processor.ChatTransport, cfg.Processor.WebhookURL, cfg.Server.PublicBaseURL)
		consumer := rabbit.NewResponseConsumer(conn, chats, cfg.Rabbit.Exchange)
		if err := consumer.Start(ctx); err != nil {
			slog.Error("start response consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	})

	registry := queue.NewHandlersRegistry()
	registry.Register(queue.TypeTrafficCapture, workers.NewTrafficWorker(db))
	registry.Register(queue.TypeRetryScan, workers.NewRetryScanWorker(retryWorker))

	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register(
		"@every "+cfg.Retry.ScanInterval.String(),
		asynq.NewTask(queue.TypeRetryScan, nil),
		asynq.Queue("critical"),
	); err != nil {
		slog.Error("register retry scan schedule", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			slog.Error("scheduler stopped", "error", err)
			stop()
		}
	}()

	go func() {
		slog.Info("worker starting", "retry_scan_interval", cfg.Retry.ScanInterval.String())
		if err := srv.Run(registry.Mux()); err != nil {
			slog.Error("worker stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	scheduler.Shutdown()
	srv.Shutdown()
	dispatcher.Close()
}
