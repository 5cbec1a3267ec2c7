// Package handler 提供 HTTP 请求处理器
package handler

import (
	"github.com/gin-gonic/gin"

	"telegen-ai-gateway/internal/application/broadcast"
	"telegen-ai-gateway/internal/domain/entity"
	"telegen-ai-gateway/internal/interfaces/http/dto"
	"telegen-ai-gateway/pkg/logger"
)

// ChannelHandler 频道广播处理器
type ChannelHandler struct {
	broadcaster *broadcast.Broadcaster
}

// NewChannelHandler 创建频道广播处理器
func NewChannelHandler(broadcaster *broadcast.Broadcaster) *ChannelHandler {
	return &ChannelHandler{broadcaster: broadcaster}
}

// Broadcast 频道广播接口
// @Summary 频道广播
// @Description 由频道绑定的 Agent 生成一篇帖子并发布到频道；async=1 时排队异步执行
// @Tags Channels
// @Accept json
// @Produce json
// @Param request body dto.BroadcastRequest true "广播请求"
// @Param async query string false "异步执行"
// @Success 200 {object} dto.Response[entity.Message]
// @Success 202 {object} dto.Response[gin.H]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/channels/broadcast [post]
func (h *ChannelHandler) Broadcast(c *gin.Context) {
	var req dto.BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "channelId and topic are required")
		return
	}

	ctx := logger.WithContext(c.Request.Context(), logger.ChannelIDKey, req.ChannelID)

	if async := c.Query("async"); async == "1" || async == "true" {
		jobID, err := h.broadcaster.Enqueue(ctx, req.ChannelID, req.Topic)
		if err != nil {
			dto.Error(c, err)
			return
		}
		dto.Accepted(c, gin.H{"job_id": jobID})
		return
	}

	message, err := h.broadcaster.Broadcast(ctx, req.ChannelID, req.Topic)
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success[*entity.Message](c, message)
}
