// Package entity 定义领域实体
package entity

import "time"

// UsageRecord 用量记录
// 每次完成（或中途出错后部分完成）的中继调用精确生成一条，
// 与余额扣减同处一个事务，创建后不可变
type UsageRecord struct {
	ID         string    `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AccountID  string    `json:"account_id" gorm:"type:varchar(64);index;not null"`
	TokensUsed int       `json:"tokens_used" gorm:"not null;default:0"`
	Cost       float64   `json:"cost" gorm:"type:numeric(14,6);not null;default:0"`
	Provider   string    `json:"provider" gorm:"type:varchar(32);not null"`
	ModelID    string    `json:"model_id" gorm:"type:varchar(128);not null"`
	MessageID  string    `json:"message_id" gorm:"type:uuid;index;not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}
