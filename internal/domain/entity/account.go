// Package entity 定义领域实体
package entity

import (
	"fmt"
	"time"
)

// Account 预付费账户实体
// ID 由调用方提供（不透明字符串），首次引用时自动创建
type Account struct {
	ID        string    `json:"id" gorm:"type:varchar(64);primaryKey"`
	Email     string    `json:"email" gorm:"type:varchar(255)"`
	Credits   float64   `json:"credits" gorm:"type:numeric(14,6);not null;default:0"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Account) TableName() string {
	return "accounts"
}

// NewAccount 创建新账户（带初始余额）
func NewAccount(id string, startingCredits float64) *Account {
	now := time.Now()
	return &Account{
		ID:        id,
		Email:     fmt.Sprintf("%s@example.com", id),
		Credits:   startingCredits,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasCredits 检查余额是否足以开始一次调用
// 余额在扣费后允许短暂为负（先用后扣记账），门禁只看调用前余额
func (a *Account) HasCredits() bool {
	return a.Credits > 0
}
