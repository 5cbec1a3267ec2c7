// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"telegen-ai-gateway/internal/domain/entity"
)

// ConversationRepository 会话仓储
type ConversationRepository interface {
	Create(ctx context.Context, conversation *entity.Conversation) error
	// GetByID 查询会话并预加载参与者及其 Agent，不存在时返回 (nil, nil)
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
}

// MessageRepository 消息仓储
type MessageRepository interface {
	Create(ctx context.Context, message *entity.Message) error
	ListByConversation(ctx context.Context, conversationID string, pagination Pagination) (*PagedResult[*entity.Message], error)
}
