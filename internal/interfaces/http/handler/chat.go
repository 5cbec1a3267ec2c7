// Package handler 提供 HTTP 请求处理器
package handler

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"

	"telegen-ai-gateway/internal/application/chat"
	"telegen-ai-gateway/internal/infrastructure/llm"
	"telegen-ai-gateway/internal/interfaces/http/dto"
	"telegen-ai-gateway/pkg/logger"
)

// ChatHandler 流式对话处理器
type ChatHandler struct {
	relay *chat.Service
}

// NewChatHandler 创建流式对话处理器
func NewChatHandler(relay *chat.Service) *ChatHandler {
	return &ChatHandler{relay: relay}
}

// Chat 流式对话接口
// @Summary 流式对话
// @Description 转发对话请求到上游提供商并以 SSE 实时回传内容
// @Tags Chat
// @Accept json
// @Produce text/event-stream
// @Param request body dto.ChatRequest true "对话请求"
// @Success 200 "SSE stream"
// @Failure 400 {object} dto.ErrorResponse
// @Failure 402 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Router /v1/chat [post]
func (h *ChatHandler) Chat(c *gin.Context) {
	var req dto.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "messages, provider and modelId are required")
		return
	}

	accountID := req.ResolveAccountID()
	c.Set("account_id", accountID)

	ctx := logger.WithContext(c.Request.Context(), logger.AccountIDKey, accountID)
	ctx = logger.WithContext(ctx, logger.ProviderKey, req.Provider)
	c.Request = c.Request.WithContext(ctx)

	messages := make([]llm.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}

	// 门禁和提供商解析失败发生在流开启之前，仍可返回 JSON 错误
	session, err := h.relay.Prepare(ctx, chat.Request{
		AccountID: accountID,
		Provider:  req.Provider,
		ModelID:   req.ModelID,
		Messages:  messages,
	})
	if err != nil {
		dto.Error(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()

	// 流开启后错误只能以流内事件交付，Run 内部已处理
	_ = session.Run(ctx, &sseSink{writer: c.Writer})
}

// sseSink 将中继事件写成 SSE 帧
type sseSink struct {
	writer gin.ResponseWriter
}

func (s *sseSink) send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", data); err != nil {
		return err
	}
	s.writer.Flush()
	return nil
}

// SendChunk 写入内容片段帧
func (s *sseSink) SendChunk(content string) error {
	return s.send(gin.H{"content": content})
}

// SendError 写入流内错误帧
func (s *sseSink) SendError(message string) error {
	return s.send(gin.H{"error": message})
}

// SendDone 写入终止哨兵
func (s *sseSink) SendDone() error {
	if _, err := fmt.Fprint(s.writer, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.writer.Flush()
	return nil
}
