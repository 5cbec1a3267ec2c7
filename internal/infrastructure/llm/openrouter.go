package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"telegen-ai-gateway/internal/config"
	"telegen-ai-gateway/pkg/errors"
	"telegen-ai-gateway/pkg/metrics"
)

var tracer = otel.Tracer("llm")

// OpenRouterProvider OpenRouter 流式对话适配器
type OpenRouterProvider struct {
	apiKey   string
	baseURL  string
	appURL   string
	appTitle string
	client   *http.Client
}

// NewOpenRouterProvider 创建 OpenRouter 适配器
func NewOpenRouterProvider(cfg config.ProviderConfig, appURL, appTitle string) *OpenRouterProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	if appURL == "" {
		appURL = "http://localhost:3000"
	}
	if appTitle == "" {
		appTitle = "TeleGen AI"
	}
	return &OpenRouterProvider{
		apiKey:   cfg.APIKey,
		baseURL:  baseURL,
		appURL:   appURL,
		appTitle: appTitle,
		client:   newHTTPClient(cfg.Timeout),
	}
}

// Name 返回提供商标识
func (p *OpenRouterProvider) Name() string {
	return "openrouter"
}

// chatRequest OpenRouter 请求体
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// StreamChat 发起流式对话请求
func (p *OpenRouterProvider) StreamChat(ctx context.Context, messages []ChatMessage, modelID string, onChunk ChunkHandler) error {
	ctx, span := tracer.Start(ctx, "openrouter.StreamChat",
		trace.WithAttributes(
			attribute.String("llm.provider", p.Name()),
			attribute.String("llm.model", modelID),
		))
	defer span.End()

	body, err := json.Marshal(chatRequest{
		Model:    modelID,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	// OpenRouter 归因头
	req.Header.Set("HTTP-Referer", p.appURL)
	req.Header.Set("X-Title", p.appTitle)

	resp, err := p.client.Do(req)
	if err != nil {
		span.RecordError(err)
		metrics.UpstreamErrorsTotal.WithLabelValues(p.Name()).Inc()
		return errors.Wrap(err, errors.CodeUpstreamError, "upstream provider error")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamErrorsTotal.WithLabelValues(p.Name()).Inc()
		upstreamErr := fmt.Errorf("openrouter returned status %d: %s", resp.StatusCode, readErrorMessage(resp.Body))
		span.RecordError(upstreamErr)
		return errors.Wrap(upstreamErr, errors.CodeUpstreamError, "upstream provider error")
	}

	return decodeSSEStream(ctx, p.Name(), resp.Body, onChunk)
}

// readErrorMessage 提取上游错误响应中的消息
// 兼容 {"error":{"message":"..."}} 和 {"error":"..."} 两种封装
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 8*1024))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}

	return string(raw)
}
