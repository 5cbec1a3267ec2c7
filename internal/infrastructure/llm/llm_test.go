package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegen-ai-gateway/internal/config"
	"telegen-ai-gateway/pkg/errors"
)

func sseBody(frames ...string) string {
	var sb strings.Builder
	for _, f := range frames {
		sb.WriteString("data: " + f + "\n\n")
	}
	return sb.String()
}

func contentFrame(content string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, content)
}

func TestOpenRouterStreamChat(t *testing.T) {
	var gotAuth, gotReferer, gotTitle string
	var gotBody chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(contentFrame("Hel"), contentFrame("lo"), "[DONE]"))
	}))
	defer server.Close()

	provider := NewOpenRouterProvider(config.ProviderConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL,
	}, "https://gateway.example.com", "TeleGen AI")

	var chunks []string
	err := provider.StreamChat(context.Background(),
		[]ChatMessage{{Role: "user", Content: "hi"}},
		"openai/gpt-4o-mini",
		func(content string) { chunks = append(chunks, content) },
	)

	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "https://gateway.example.com", gotReferer)
	assert.Equal(t, "TeleGen AI", gotTitle)
	assert.Equal(t, "openai/gpt-4o-mini", gotBody.Model)
	assert.True(t, gotBody.Stream)
}

func TestOpenRouterUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer server.Close()

	provider := NewOpenRouterProvider(config.ProviderConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL,
	}, "", "")

	err := provider.StreamChat(context.Background(),
		[]ChatMessage{{Role: "user", Content: "hi"}},
		"openai/gpt-4o-mini",
		func(string) { t.Fatal("no chunk expected on upstream rejection") },
	)

	require.Error(t, err)
	appErr := errors.AsAppError(err)
	assert.Equal(t, errors.CodeUpstreamError, appErr.Code)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Contains(t, err.Error(), "429")
}

func TestHuggingFaceStreamChat(t *testing.T) {
	var gotPath string
	var gotBody hfChatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(contentFrame("bonjour"), "[DONE]"))
	}))
	defer server.Close()

	provider := NewHuggingFaceProvider(config.ProviderConfig{
		APIKey:  "hf-test",
		BaseURL: server.URL,
	})

	var chunks []string
	err := provider.StreamChat(context.Background(),
		[]ChatMessage{{Role: "user", Content: "salut"}},
		"meta-llama/Llama-3.1-8B-Instruct",
		func(content string) { chunks = append(chunks, content) },
	)

	require.NoError(t, err)
	assert.Equal(t, []string{"bonjour"}, chunks)
	assert.Equal(t, "/models/meta-llama/Llama-3.1-8B-Instruct/v1/chat/completions", gotPath)
	assert.Equal(t, 500, gotBody.MaxTokens)
	assert.True(t, gotBody.Stream)
}

func TestHuggingFaceFlatErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"model is loading"}`)
	}))
	defer server.Close()

	provider := NewHuggingFaceProvider(config.ProviderConfig{
		APIKey:  "hf-test",
		BaseURL: server.URL,
	})

	err := provider.StreamChat(context.Background(),
		[]ChatMessage{{Role: "user", Content: "hi"}},
		"some/model",
		func(string) {},
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is loading")
}

func TestDecodeSSEStreamSkipsMalformedFrames(t *testing.T) {
	body := strings.NewReader(sseBody(
		contentFrame("first"),
		"{not valid json",
		`{"choices":[]}`,
		contentFrame("second"),
		"[DONE]",
	))

	var chunks []string
	err := decodeSSEStream(context.Background(), "test", body, func(content string) {
		chunks = append(chunks, content)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, chunks)
}

func TestDecodeSSEStreamEOFWithoutDone(t *testing.T) {
	// 上游直接断流（无 [DONE] 哨兵）视为正常结束
	body := strings.NewReader(sseBody(contentFrame("partial")))

	var chunks []string
	err := decodeSSEStream(context.Background(), "test", body, func(content string) {
		chunks = append(chunks, content)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"partial"}, chunks)
}

func TestDecodeSSEStreamStopsAtDone(t *testing.T) {
	body := strings.NewReader(sseBody(
		contentFrame("before"),
		"[DONE]",
		contentFrame("after"),
	))

	var chunks []string
	err := decodeSSEStream(context.Background(), "test", body, func(content string) {
		chunks = append(chunks, content)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"before"}, chunks)
}

func TestRegistryGet(t *testing.T) {
	cfg := &config.Config{
		LLM: config.LLMConfig{
			Providers: map[string]config.ProviderConfig{
				"openrouter":  {APIKey: "sk-test"},
				"huggingface": {}, // 无 API Key，不注册
			},
		},
	}
	registry := NewRegistry(cfg)

	p, err := registry.Get("openrouter")
	require.NoError(t, err)
	assert.Equal(t, "openrouter", p.Name())

	_, err = registry.Get("huggingface")
	require.Error(t, err)
	assert.Equal(t, errors.CodeProviderNotConfigured, errors.AsAppError(err).Code)

	_, err = registry.Get("gemini")
	require.Error(t, err)
	assert.Equal(t, errors.CodeProviderNotConfigured, errors.AsAppError(err).Code)
}
