// Package main 频道广播任务执行器入口（broadcast-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"telegen-ai-gateway/internal/config"
	"telegen-ai-gateway/internal/infrastructure/messaging"
	"telegen-ai-gateway/internal/wire"
	"telegen-ai-gateway/pkg/logger"
	"telegen-ai-gateway/pkg/tracer"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx := context.Background()
	log := logger.FromContext(ctx)

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "broadcast-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(ctx) }()

	deps, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	consumer := messaging.NewConsumer(deps.RedisClient.Redis(), messaging.ConsumerConfig{
		Stream:       messaging.StreamBroadcast,
		Group:        messaging.ConsumerGroupBroadcastWorker,
		ConsumerName: hostnameConsumerName(),
		BlockTimeout: cfg.Messaging.RedisStream.BlockTimeout,
		RetryLimit:   cfg.Messaging.RedisStream.RetryLimit,
	})

	consumer.RegisterHandler("channel_broadcast", deps.Broadcaster.HandleJob)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := consumer.Start(runCtx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}
	log.Info("broadcast worker started",
		"stream", string(messaging.StreamBroadcast),
		"group", string(messaging.ConsumerGroupBroadcastWorker),
	)

	go consumer.MonitorDLQ(runCtx, 100)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down broadcast worker...")
	cancel()
	consumer.Stop()
	log.Info("broadcast worker exited")
}

// hostnameConsumerName 用主机名 + 随机后缀生成消费者名，避免多实例冲突
func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
