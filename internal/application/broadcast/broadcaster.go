// Package broadcast 提供频道内容广播编排
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"telegen-ai-gateway/internal/application/billing"
	"telegen-ai-gateway/internal/domain/entity"
	"telegen-ai-gateway/internal/domain/repository"
	"telegen-ai-gateway/internal/infrastructure/llm"
	"telegen-ai-gateway/internal/infrastructure/messaging"
	"telegen-ai-gateway/pkg/errors"
	"telegen-ai-gateway/pkg/logger"
	"telegen-ai-gateway/pkg/metrics"
)

var tracer = otel.Tracer("broadcast")

// channelCacheTTL 频道元数据（类型 + Agent 绑定）变更很少，短缓存即可
const channelCacheTTL = time.Minute

// ChannelCache 频道元数据的 Read-Through 缓存
type ChannelCache interface {
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func() (interface{}, error)) ([]byte, error)
}

// Broadcaster 频道广播服务
//
// 向频道投递一篇由绑定 Agent 生成的内容：频道必须恰好绑定
// 一个 Agent，生成的消息持久化到频道本身，费用记在运营账户上。
// 运营账户不做余额门禁，允许透支，由运营侧对账。
type Broadcaster struct {
	conversations     repository.ConversationRepository
	cache             ChannelCache
	registry          *llm.Registry
	settler           *billing.Settler
	producer          *messaging.Producer
	operatorAccountID string
}

// NewBroadcaster 创建广播服务
// cache 为 nil 时直接查库，producer 为 nil 时不支持异步排队
func NewBroadcaster(
	conversations repository.ConversationRepository,
	cache ChannelCache,
	registry *llm.Registry,
	settler *billing.Settler,
	producer *messaging.Producer,
	operatorAccountID string,
) *Broadcaster {
	return &Broadcaster{
		conversations:     conversations,
		cache:             cache,
		registry:          registry,
		settler:           settler,
		producer:          producer,
		operatorAccountID: operatorAccountID,
	}
}

// loadChannel 读取频道及其参与者绑定
func (b *Broadcaster) loadChannel(ctx context.Context, channelID string) (*entity.Conversation, error) {
	if b.cache == nil {
		return b.conversations.GetByID(ctx, channelID)
	}

	raw, err := b.cache.GetOrLoad(ctx, "channel:"+channelID, channelCacheTTL, func() (interface{}, error) {
		channel, loadErr := b.conversations.GetByID(ctx, channelID)
		if loadErr != nil {
			return nil, loadErr
		}
		if channel == nil {
			// 不缓存未命中，让上层按 not found 处理
			return nil, errors.New(errors.CodeChannelNotFound, "channel not found")
		}
		return channel, nil
	})
	if err != nil {
		if errors.AsAppError(err).Code == errors.CodeChannelNotFound {
			return nil, nil
		}
		return nil, err
	}

	var channel entity.Conversation
	if err := json.Unmarshal(raw, &channel); err != nil {
		return nil, fmt.Errorf("failed to decode cached channel: %w", err)
	}
	return &channel, nil
}

// buildPrompt 构造频道帖子的生成提示
func buildPrompt(topic string) string {
	return fmt.Sprintf("Generate a high-quality Telegram channel post about: %s.\n"+
		"Use markdown, emojis, and keep it engaging.\n"+
		"The post should be professional and informative.", topic)
}

// Broadcast 同步执行一次频道广播
//
// 失败路径（频道不存在、Agent 绑定不合法、上游出错）不会留下
// 任何持久化痕迹；消息和用量记录只在生成成功后一并落库。
func (b *Broadcaster) Broadcast(ctx context.Context, channelID, topic string) (*entity.Message, error) {
	ctx, span := tracer.Start(ctx, "broadcast.Broadcast",
		trace.WithAttributes(attribute.String("channel.id", channelID)))
	defer span.End()

	ctx = logger.WithContext(ctx, logger.ChannelIDKey, channelID)
	log := logger.FromContext(ctx)

	channel, err := b.loadChannel(ctx, channelID)
	if err != nil {
		span.RecordError(err)
		metrics.BroadcastTotal.WithLabelValues("failed").Inc()
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to load channel")
	}
	if channel == nil || !channel.IsChannel() {
		metrics.BroadcastTotal.WithLabelValues("not_found").Inc()
		return nil, errors.New(errors.CodeChannelNotFound, "channel not found")
	}

	agents := channel.BoundAgents()
	if len(agents) != 1 {
		metrics.BroadcastTotal.WithLabelValues("invalid_state").Inc()
		return nil, errors.New(errors.CodeChannelInvalidState, "channel has no usable agent binding").
			WithDetail(fmt.Sprintf("channel has %d bound agents, exactly one is required", len(agents)))
	}
	agent := agents[0]
	span.SetAttributes(
		attribute.String("agent.id", agent.ID),
		attribute.String("llm.provider", agent.Provider),
		attribute.String("llm.model", agent.ModelID),
	)

	provider, err := b.registry.Get(agent.Provider)
	if err != nil {
		span.RecordError(err)
		metrics.BroadcastTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	var content strings.Builder
	err = provider.StreamChat(ctx,
		[]llm.ChatMessage{{Role: "user", Content: buildPrompt(topic)}},
		agent.ModelID,
		func(chunk string) { content.WriteString(chunk) },
	)
	if err != nil {
		span.RecordError(err)
		metrics.BroadcastTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	if content.Len() == 0 {
		metrics.BroadcastTotal.WithLabelValues("failed").Inc()
		return nil, errors.New(errors.CodeUpstreamError, "upstream returned empty broadcast content")
	}

	if _, err := b.settler.EnsureAccount(ctx, b.operatorAccountID); err != nil {
		span.RecordError(err)
		metrics.BroadcastTotal.WithLabelValues("failed").Inc()
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to resolve operator account")
	}

	result, err := b.settler.Settle(ctx, billing.SettlementInput{
		AccountID:      b.operatorAccountID,
		Provider:       agent.Provider,
		ModelID:        agent.ModelID,
		Content:        content.String(),
		ConversationID: channelID,
		AgentID:        &agent.ID,
	})
	if err != nil {
		span.RecordError(err)
		metrics.BroadcastTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.BroadcastTotal.WithLabelValues("success").Inc()
	log.Info("channel broadcast published",
		"message_id", result.Message.ID,
		"agent_id", agent.ID,
		"tokens", result.Tokens,
	)
	return result.Message, nil
}

// Enqueue 将广播任务排入队列，由后台 worker 执行
func (b *Broadcaster) Enqueue(ctx context.Context, channelID, topic string) (string, error) {
	if b.producer == nil {
		return "", errors.New(errors.CodeServiceUnavailable, "broadcast queue is not configured")
	}

	ctx, span := tracer.Start(ctx, "broadcast.Enqueue",
		trace.WithAttributes(attribute.String("channel.id", channelID)))
	defer span.End()

	job := &messaging.BroadcastJobMessage{
		JobID:      uuid.NewString(),
		ChannelID:  channelID,
		OperatorID: b.operatorAccountID,
		Topic:      topic,
	}
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		job.RequestID = reqID
	}

	if _, err := b.producer.PublishBroadcastJob(ctx, job); err != nil {
		span.RecordError(err)
		metrics.BroadcastTotal.WithLabelValues("enqueue_failed").Inc()
		return "", errors.Wrap(err, errors.CodeCacheError, "failed to enqueue broadcast job")
	}

	if depth, err := b.producer.QueueDepth(ctx, messaging.StreamBroadcast); err == nil {
		metrics.BroadcastQueueDepth.Set(float64(depth))
	}

	metrics.BroadcastTotal.WithLabelValues("enqueued").Inc()
	return job.JobID, nil
}

// HandleJob 消费队列中的广播任务
// 注册到 messaging.Consumer，返回错误会触发退避重试
func (b *Broadcaster) HandleJob(ctx context.Context, msg *messaging.Message) error {
	var job messaging.BroadcastJobMessage
	if err := msg.UnmarshalPayload(&job); err != nil {
		// 载荷损坏无法重试，吞掉错误让消息被确认
		logger.FromContext(ctx).Error("invalid broadcast job payload", "error", err, "message_id", msg.ID)
		return nil
	}

	start := time.Now()
	message, err := b.Broadcast(ctx, job.ChannelID, job.Topic)
	if err != nil {
		// 频道不存在或绑定不合法属于永久失败，重试没有意义
		if appErr := errors.AsAppError(err); appErr.Code == errors.CodeChannelNotFound || appErr.Code == errors.CodeChannelInvalidState {
			logger.FromContext(ctx).Warn("dropping unprocessable broadcast job",
				"job_id", job.JobID,
				"error", err,
			)
			return nil
		}
		return err
	}

	logger.FromContext(ctx).Info("broadcast job completed",
		"job_id", job.JobID,
		"message_id", message.ID,
		"duration", time.Since(start),
	)
	return nil
}
