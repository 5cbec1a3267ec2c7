package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"telegen-ai-gateway/internal/config"
	"telegen-ai-gateway/pkg/errors"
	"telegen-ai-gateway/pkg/metrics"
)

// HuggingFaceProvider Hugging Face Inference API 流式对话适配器
type HuggingFaceProvider struct {
	apiKey    string
	baseURL   string
	maxTokens int
	client    *http.Client
}

// NewHuggingFaceProvider 创建 Hugging Face 适配器
func NewHuggingFaceProvider(cfg config.ProviderConfig) *HuggingFaceProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api-inference.huggingface.co"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &HuggingFaceProvider{
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		maxTokens: maxTokens,
		client:    newHTTPClient(cfg.Timeout),
	}
}

// Name 返回提供商标识
func (p *HuggingFaceProvider) Name() string {
	return "huggingface"
}

// hfChatRequest Hugging Face 请求体
// 部分托管模型在不限制 max_tokens 时会拒绝流式请求
type hfChatRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	MaxTokens int           `json:"max_tokens"`
}

// StreamChat 发起流式对话请求
func (p *HuggingFaceProvider) StreamChat(ctx context.Context, messages []ChatMessage, modelID string, onChunk ChunkHandler) error {
	ctx, span := tracer.Start(ctx, "huggingface.StreamChat",
		trace.WithAttributes(
			attribute.String("llm.provider", p.Name()),
			attribute.String("llm.model", modelID),
		))
	defer span.End()

	body, err := json.Marshal(hfChatRequest{
		Model:     modelID,
		Messages:  messages,
		Stream:    true,
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	// 模型 ID 是路径的一部分
	url := fmt.Sprintf("%s/models/%s/v1/chat/completions", p.baseURL, modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		span.RecordError(err)
		metrics.UpstreamErrorsTotal.WithLabelValues(p.Name()).Inc()
		return errors.Wrap(err, errors.CodeUpstreamError, "upstream provider error")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamErrorsTotal.WithLabelValues(p.Name()).Inc()
		upstreamErr := fmt.Errorf("huggingface returned status %d: %s", resp.StatusCode, readErrorMessage(resp.Body))
		span.RecordError(upstreamErr)
		return errors.Wrap(upstreamErr, errors.CodeUpstreamError, "upstream provider error")
	}

	return decodeSSEStream(ctx, p.Name(), resp.Body, onChunk)
}
