// Package chat 提供流式对话中继编排
package chat

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"telegen-ai-gateway/internal/application/billing"
	"telegen-ai-gateway/internal/infrastructure/llm"
	"telegen-ai-gateway/pkg/errors"
	"telegen-ai-gateway/pkg/logger"
	"telegen-ai-gateway/pkg/metrics"
)

var tracer = otel.Tracer("chat")

// Request 一次中继调用的输入
type Request struct {
	AccountID string
	Provider  string
	ModelID   string
	Messages  []llm.ChatMessage
}

// EventSink 客户端事件流的写入端
// 三类事件与下游 SSE 帧一一对应
type EventSink interface {
	SendChunk(content string) error
	SendError(message string) error
	SendDone() error
}

// Service 中继服务
//
// 调用分为两个阶段：Prepare 做参数校验、账户门禁和提供商解析，
// 失败以普通错误返回（对应流开始前的 JSON 错误响应）；
// Run 开始转发后所有问题只能以流内事件的形式交付。
type Service struct {
	registry *llm.Registry
	settler  *billing.Settler
}

// NewService 创建中继服务
func NewService(registry *llm.Registry, settler *billing.Settler) *Service {
	return &Service{
		registry: registry,
		settler:  settler,
	}
}

// Prepare 校验请求并建立会话
//
// 余额门禁只看调用前余额：余额 > 0 即放行，本次产生的费用
// 在调用结束后结算，余额因此允许短暂为负。
func (s *Service) Prepare(ctx context.Context, req Request) (*Session, error) {
	ctx, span := tracer.Start(ctx, "chat.Prepare",
		trace.WithAttributes(
			attribute.String("account.id", req.AccountID),
			attribute.String("llm.provider", req.Provider),
			attribute.String("llm.model", req.ModelID),
		))
	defer span.End()

	if req.AccountID == "" || req.Provider == "" || req.ModelID == "" || len(req.Messages) == 0 {
		return nil, errors.New(errors.CodeInvalidParam, "accountId, provider, modelId and messages are required")
	}

	provider, err := s.registry.Get(req.Provider)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	account, err := s.settler.EnsureAccount(ctx, req.AccountID)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to resolve account")
	}

	if !account.HasCredits() {
		span.SetAttributes(attribute.Bool("billing.gated", true))
		return nil, errors.ErrInsufficientCredits
	}

	return &Session{
		service:  s,
		request:  req,
		provider: provider,
	}, nil
}

// Session 已通过门禁的中继会话
type Session struct {
	service  *Service
	request  Request
	provider llm.Provider
}

// errSinkClosed 客户端写入失败的哨兵，用于区分上游错误
var errSinkClosed = stderrors.New("client event sink closed")

// Run 执行流式中继
//
// 上游内容片段逐个转发给 sink 并累计；流结束后按累计内容结算。
// 结算使用与客户端断开解耦的上下文：客户端中途离开不影响
// 已产生用量的入账。上游中途出错时已转发的部分照常结算。
func (session *Session) Run(ctx context.Context, sink EventSink) error {
	req := session.request

	ctx, span := tracer.Start(ctx, "chat.Run",
		trace.WithAttributes(
			attribute.String("account.id", req.AccountID),
			attribute.String("llm.provider", req.Provider),
			attribute.String("llm.model", req.ModelID),
		))
	defer span.End()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()
	start := time.Now()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var content strings.Builder
	var sinkErr error

	streamErr := session.provider.StreamChat(streamCtx, req.Messages, req.ModelID, func(chunk string) {
		content.WriteString(chunk)
		if sinkErr != nil {
			return
		}
		if err := sink.SendChunk(chunk); err != nil {
			// 客户端已断开，停止上游拉取，已累计的内容照常结算
			sinkErr = err
			cancel()
			return
		}
		metrics.RelayChunksForwarded.WithLabelValues(req.Provider, req.ModelID).Inc()
	})

	log := logger.FromContext(ctx)
	status := "success"

	switch {
	case sinkErr != nil:
		status = "client_disconnected"
		span.RecordError(sinkErr)
		log.Warn("client disconnected during relay", "error", sinkErr)

	case streamErr != nil:
		status = "upstream_error"
		span.RecordError(streamErr)
		log.Error("upstream stream failed", "error", streamErr)
		// 流已开启，错误只能以流内事件交付
		if err := sink.SendError(streamErr.Error()); err != nil {
			log.Warn("failed to deliver error event", "error", err)
		}
	}

	metrics.RelayRequestsTotal.WithLabelValues(req.Provider, req.ModelID, status).Inc()
	metrics.RelayDuration.WithLabelValues(req.Provider, req.ModelID).Observe(time.Since(start).Seconds())

	session.settle(ctx, content.String())

	if sinkErr != nil {
		return errSinkClosed
	}

	// 结算完成后才发终止哨兵，错误事件之后同样收尾
	if err := sink.SendDone(); err != nil {
		log.Warn("failed to deliver done event", "error", err)
	}
	return streamErr
}

// settle 按累计输出结算
// 与请求上下文解耦，客户端断开不阻止入账
func (session *Session) settle(ctx context.Context, content string) {
	if content == "" {
		return
	}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	// 总用量 = 请求消息的 token 估算 + 累计输出的 token 估算
	inputTokens := 0
	for _, m := range session.request.Messages {
		inputTokens += billing.EstimateTokens(m.Content)
	}

	_, err := session.service.settler.Settle(settleCtx, billing.SettlementInput{
		AccountID:   session.request.AccountID,
		Provider:    session.request.Provider,
		ModelID:     session.request.ModelID,
		InputTokens: inputTokens,
		Content:     content,
	})
	if err != nil {
		// 结算失败不回滚已交付的流，记录后由运营侧对账
		logger.FromContext(settleCtx).Error("relay settlement failed",
			"error", err,
			"account_id", session.request.AccountID,
		)
	}
}
