package billing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"telegen-ai-gateway/internal/domain/entity"
	"telegen-ai-gateway/internal/domain/repository"
	"telegen-ai-gateway/pkg/logger"
	"telegen-ai-gateway/pkg/metrics"
)

var tracer = otel.Tracer("billing")

// Settler 用量结算服务
//
// 一次结算在单个事务内完成：持久化生成的消息、写入用量记录、
// 原子扣减账户余额。任何一步失败整体回滚，保证消息、
// 用量记录和余额变动三者的一致性。
type Settler struct {
	tx              repository.Transactor
	accounts        repository.AccountRepository
	conversations   repository.ConversationRepository
	messages        repository.MessageRepository
	usage           repository.UsageRecordRepository
	pricer          *Pricer
	startingCredits float64
}

// NewSettler 创建结算服务
func NewSettler(
	tx repository.Transactor,
	accounts repository.AccountRepository,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	usage repository.UsageRecordRepository,
	pricer *Pricer,
	startingCredits float64,
) *Settler {
	return &Settler{
		tx:              tx,
		accounts:        accounts,
		conversations:   conversations,
		messages:        messages,
		usage:           usage,
		pricer:          pricer,
		startingCredits: startingCredits,
	}
}

// EnsureAccount 获取账户，不存在时用初始余额自动创建
func (s *Settler) EnsureAccount(ctx context.Context, id string) (*entity.Account, error) {
	ctx, span := tracer.Start(ctx, "billing.EnsureAccount",
		trace.WithAttributes(attribute.String("account.id", id)))
	defer span.End()

	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	account = entity.NewAccount(id, s.startingCredits)
	if err := s.accounts.Create(ctx, account); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to auto-create account: %w", err)
	}

	logger.FromContext(ctx).Info("account auto-created",
		"account_id", id,
		"starting_credits", s.startingCredits,
	)
	return account, nil
}

// SettlementInput 一次结算的输入
type SettlementInput struct {
	AccountID string
	Provider  string
	ModelID   string
	// InputTokens 请求侧消息的 token 估算，计入总用量
	InputTokens int
	// Content 本次调用累计的完整输出
	Content string
	// ConversationID 为空时创建一个私聊会话包裹生成的消息
	ConversationID string
	// AgentID 生成消息的 Agent，中继调用时为 nil
	AgentID *string
}

// SettlementResult 结算结果
type SettlementResult struct {
	Message *entity.Message
	Record  *entity.UsageRecord
	Tokens  int
	Cost    float64
}

// Settle 执行一次结算
// 输出为空（token 估算为 0）时跳过，不产生任何持久化副作用
func (s *Settler) Settle(ctx context.Context, input SettlementInput) (*SettlementResult, error) {
	ctx, span := tracer.Start(ctx, "billing.Settle",
		trace.WithAttributes(
			attribute.String("account.id", input.AccountID),
			attribute.String("llm.provider", input.Provider),
			attribute.String("llm.model", input.ModelID),
		))
	defer span.End()

	// 没有产出就不结算，输入侧的 token 不单独计费
	outputTokens := EstimateTokens(input.Content)
	if outputTokens == 0 {
		span.SetAttributes(attribute.Bool("billing.skipped", true))
		return nil, nil
	}

	tokens := input.InputTokens + outputTokens
	cost := s.pricer.Cost(tokens, input.ModelID)
	span.SetAttributes(
		attribute.Int("billing.tokens", tokens),
		attribute.Float64("billing.cost", cost),
	)

	var result SettlementResult
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		conversationID := input.ConversationID
		if conversationID == "" {
			conversation := entity.NewPrivateConversation()
			if err := s.conversations.Create(txCtx, conversation); err != nil {
				return fmt.Errorf("failed to create conversation: %w", err)
			}
			conversationID = conversation.ID
		}

		message := entity.NewAgentMessage(conversationID, input.Content, tokens, input.AgentID)
		if err := s.messages.Create(txCtx, message); err != nil {
			return err
		}

		record := &entity.UsageRecord{
			AccountID:  input.AccountID,
			TokensUsed: tokens,
			Cost:       cost,
			Provider:   input.Provider,
			ModelID:    input.ModelID,
			MessageID:  message.ID,
		}
		if err := s.usage.Create(txCtx, record); err != nil {
			return err
		}

		if err := s.accounts.DebitCredits(txCtx, input.AccountID, cost); err != nil {
			return err
		}

		result.Message = message
		result.Record = record
		result.Tokens = tokens
		result.Cost = cost
		return nil
	})

	if err != nil {
		span.RecordError(err)
		metrics.SettlementTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("settlement failed: %w", err)
	}

	metrics.SettlementTotal.WithLabelValues("success").Inc()
	if input.InputTokens > 0 {
		metrics.TokensCharged.WithLabelValues(input.Provider, input.ModelID, "input").Add(float64(input.InputTokens))
	}
	metrics.TokensCharged.WithLabelValues(input.Provider, input.ModelID, "output").Add(float64(outputTokens))
	metrics.CreditsDebited.WithLabelValues(input.Provider, input.ModelID).Add(cost)

	logger.FromContext(ctx).Info("usage settled",
		"account_id", input.AccountID,
		"tokens", tokens,
		"cost", cost,
		"message_id", result.Message.ID,
	)
	return &result, nil
}
