//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"telegen-ai-gateway/internal/application/billing"
	"telegen-ai-gateway/internal/application/broadcast"
	"telegen-ai-gateway/internal/application/chat"
	"telegen-ai-gateway/internal/config"
	"telegen-ai-gateway/internal/domain/repository"
	"telegen-ai-gateway/internal/infrastructure/llm"
	"telegen-ai-gateway/internal/infrastructure/messaging"
	"telegen-ai-gateway/internal/infrastructure/persistence/postgres"
	"telegen-ai-gateway/internal/infrastructure/persistence/redis"
	"telegen-ai-gateway/internal/interfaces/http/handler"
	"telegen-ai-gateway/internal/interfaces/http/middleware"
	"telegen-ai-gateway/internal/interfaces/http/router"
)

// WorkerDeps 广播 worker 依赖容器
type WorkerDeps struct {
	Broadcaster *broadcast.Broadcaster
	RedisClient *redis.Client
	PgClient    *postgres.Client
}

// InitializeApp 初始化整个应用（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		RateLimitSet,
		MessagingSet,
		ApplicationSet,
		RouterSet,
	)
	return nil, nil, nil
}

// InitializeWorker 初始化广播 worker 依赖
func InitializeWorker(ctx context.Context, cfg *config.Config) (*WorkerDeps, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		MessagingSet,
		ApplicationSet,
		wire.Struct(new(WorkerDeps), "*"),
	)
	return nil, nil, nil
}

// RepoSet PostgreSQL 提供者集合与接口绑定
var RepoSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewAccountRepository,
	postgres.NewConversationRepository,
	postgres.NewMessageRepository,
	postgres.NewUsageRecordRepository,
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	wire.Bind(new(repository.AccountRepository), new(*postgres.AccountRepository)),
	wire.Bind(new(repository.ConversationRepository), new(*postgres.ConversationRepository)),
	wire.Bind(new(repository.MessageRepository), new(*postgres.MessageRepository)),
	wire.Bind(new(repository.UsageRecordRepository), new(*postgres.UsageRecordRepository)),
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	redis.NewCache,
)

// RateLimitSet HTTP 限流提供者集合（仅 API 进程使用）
var RateLimitSet = wire.NewSet(
	redis.NewRateLimiter,
	wire.Bind(new(middleware.RateLimiter), new(*redis.RateLimiter)),
)

// MessagingSet 消息队列提供者集合
var MessagingSet = wire.NewSet(
	ProvideMessagingProducer,
)

// ApplicationSet 应用服务提供者集合
var ApplicationSet = wire.NewSet(
	llm.NewRegistry,
	ProvidePricer,
	ProvideSettler,
	ProvideBroadcaster,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	chat.NewService,
	handler.NewHealthHandler,
	handler.NewChatHandler,
	handler.NewChannelHandler,
	handler.NewAccountHandler,
	wire.Struct(new(router.Handlers), "*"),
	router.New,
)

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	maxLen := cfg.Messaging.RedisStream.MaxLen
	if maxLen <= 0 {
		maxLen = 100000
	}
	return messaging.NewProducer(redisClient.Redis(), int64(maxLen))
}

// ProvidePricer 提供计价器
func ProvidePricer(cfg *config.Config) *billing.Pricer {
	return billing.NewPricer(cfg.Billing.RatePer1KTokens)
}

// ProvideSettler 提供结算服务
func ProvideSettler(
	cfg *config.Config,
	tx repository.Transactor,
	accounts repository.AccountRepository,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	usage repository.UsageRecordRepository,
	pricer *billing.Pricer,
) *billing.Settler {
	return billing.NewSettler(tx, accounts, conversations, messages, usage, pricer, cfg.Billing.StartingCredits)
}

// ProvideBroadcaster 提供频道广播服务
func ProvideBroadcaster(
	cfg *config.Config,
	conversations repository.ConversationRepository,
	cache *redis.Cache,
	registry *llm.Registry,
	settler *billing.Settler,
	producer *messaging.Producer,
) *broadcast.Broadcaster {
	return broadcast.NewBroadcaster(conversations, cache, registry, settler, producer, cfg.Billing.OperatorAccountID)
}
