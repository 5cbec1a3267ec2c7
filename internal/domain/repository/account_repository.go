// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"telegen-ai-gateway/internal/domain/entity"
)

// AccountRepository 账户仓储
type AccountRepository interface {
	Create(ctx context.Context, account *entity.Account) error
	// GetByID 查询账户，不存在时返回 (nil, nil)
	GetByID(ctx context.Context, id string) (*entity.Account, error)
	// DebitCredits 原子扣减余额（credits = credits - amount 的单条更新，
	// 并发结算依赖其串行化算术，不做读后写）
	DebitCredits(ctx context.Context, id string, amount float64) error
}
