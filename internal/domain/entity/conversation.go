// Package entity 定义领域实体
package entity

import "time"

// ConversationType 会话类型
type ConversationType string

const (
	ConversationTypePrivate ConversationType = "PRIVATE"
	ConversationTypeGroup   ConversationType = "GROUP"
	// ConversationTypeChannel 频道：对普通成员只读，由绑定的 Agent 发布内容
	ConversationTypeChannel ConversationType = "CHANNEL"
)

// Conversation 会话实体（频道是其子类型）
type Conversation struct {
	ID           string           `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Type         ConversationType `json:"type" gorm:"type:varchar(16);not null;default:'PRIVATE'"`
	Title        string           `json:"title,omitempty" gorm:"type:varchar(255)"`
	Participants []Participant    `json:"participants,omitempty" gorm:"foreignKey:ConversationID"`
	CreatedAt    time.Time        `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time        `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// NewPrivateConversation 创建点对点会话
// 中继结算时用于包裹生成的消息
func NewPrivateConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		Type:      ConversationTypePrivate,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsChannel 检查是否为频道
func (c *Conversation) IsChannel() bool {
	return c.Type == ConversationTypeChannel
}

// BoundAgents 返回所有绑定了 Agent 的参与者的 Agent
func (c *Conversation) BoundAgents() []*Agent {
	var agents []*Agent
	for i := range c.Participants {
		if c.Participants[i].Agent != nil {
			agents = append(agents, c.Participants[i].Agent)
		}
	}
	return agents
}

// Participant 会话参与者，账户或 Agent 二选一
type Participant struct {
	ID             string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ConversationID string    `json:"conversation_id" gorm:"type:uuid;index;not null"`
	AccountID      *string   `json:"account_id,omitempty" gorm:"type:varchar(64);index"`
	AgentID        *string   `json:"agent_id,omitempty" gorm:"type:uuid;index"`
	Agent          *Agent    `json:"agent,omitempty" gorm:"foreignKey:AgentID"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Participant) TableName() string {
	return "participants"
}
