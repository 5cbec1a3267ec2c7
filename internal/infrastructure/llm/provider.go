// Package llm 提供上游 LLM 提供商的流式接入
//
// 所有提供商统一暴露 OpenAI 兼容的 SSE 流式接口，
// 适配器只负责请求构造和鉴权差异，帧解析共用一套实现。
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"telegen-ai-gateway/internal/config"
	"telegen-ai-gateway/pkg/errors"
)

// ChatMessage 对话消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChunkHandler 流式内容片段回调
type ChunkHandler func(content string)

// Provider 流式对话提供商
type Provider interface {
	// Name 返回提供商标识
	Name() string

	// StreamChat 发起流式对话请求，每个内容片段通过 onChunk 回调交付。
	// 上游正常结束（[DONE] 或 EOF）返回 nil；
	// 上游拒绝请求或流中断返回错误，已交付的片段不回滚。
	StreamChat(ctx context.Context, messages []ChatMessage, modelID string, onChunk ChunkHandler) error
}

// Registry 提供商注册表
// 只有配置了 API Key 的提供商才会被注册
type Registry struct {
	providers map[string]Provider
}

// NewRegistry 根据配置构建提供商注册表
func NewRegistry(cfg *config.Config) *Registry {
	providers := make(map[string]Provider)

	if pc, ok := cfg.LLM.Providers["openrouter"]; ok && pc.APIKey != "" {
		providers["openrouter"] = NewOpenRouterProvider(pc, cfg.App.URL, cfg.App.Title)
	}
	if pc, ok := cfg.LLM.Providers["huggingface"]; ok && pc.APIKey != "" {
		providers["huggingface"] = NewHuggingFaceProvider(pc)
	}

	return &Registry{providers: providers}
}

// NewRegistryWithProviders 使用给定的提供商集合构建注册表，便于测试替换
func NewRegistryWithProviders(providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get 按名称获取提供商
// 未知名称和缺少凭证的提供商同样返回配置错误
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, errors.Wrap(
			fmt.Errorf("provider %q is unknown or has no api key", name),
			errors.CodeProviderNotConfigured,
			"provider not configured",
		)
	}
	return p, nil
}

// newHTTPClient 构造带超时的 HTTP 客户端
// 流式响应的读取时间不计入 Timeout，超时只约束连接和首包
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   16,
	}
	return &http.Client{Transport: transport}
}
