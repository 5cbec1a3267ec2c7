// Package entity 定义领域实体
package entity

import "time"

// SenderType 消息发送方类型
type SenderType string

const (
	SenderTypeUser  SenderType = "USER"
	SenderTypeAgent SenderType = "AGENT"
)

// Message 持久化消息实体
type Message struct {
	ID             string     `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ConversationID string     `json:"conversation_id" gorm:"type:uuid;index;not null"`
	SenderType     SenderType `json:"sender_type" gorm:"type:varchar(16);not null"`
	SenderAgentID  *string    `json:"sender_agent_id,omitempty" gorm:"type:uuid;index"`
	Content        string     `json:"content" gorm:"type:text;not null"`
	TokenUsage     int        `json:"token_usage" gorm:"not null;default:0"`
	CreatedAt      time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

func (Message) TableName() string {
	return "messages"
}

// NewAgentMessage 创建由 Agent 生成的消息
func NewAgentMessage(conversationID, content string, tokenUsage int, agentID *string) *Message {
	return &Message{
		ConversationID: conversationID,
		SenderType:     SenderTypeAgent,
		SenderAgentID:  agentID,
		Content:        content,
		TokenUsage:     tokenUsage,
		CreatedAt:      time.Now(),
	}
}
