// Package entity 定义领域实体
package entity

import "time"

// Agent 绑定到会话的 AI 代理（提供商 + 模型）
type Agent struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name      string    `json:"name" gorm:"type:varchar(64);not null"`
	Provider  string    `json:"provider" gorm:"type:varchar(32);not null"`
	ModelID   string    `json:"model_id" gorm:"type:varchar(128);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Agent) TableName() string {
	return "agents"
}
