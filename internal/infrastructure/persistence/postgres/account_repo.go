// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"telegen-ai-gateway/internal/domain/entity"
)

// AccountRepository 账户仓储实现
type AccountRepository struct {
	client *Client
}

// NewAccountRepository 创建账户仓储
func NewAccountRepository(client *Client) *AccountRepository {
	return &AccountRepository{client: client}
}

// Create 创建账户
func (r *AccountRepository) Create(ctx context.Context, account *entity.Account) error {
	ctx, span := tracer.Start(ctx, "postgres.AccountRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(account).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取账户
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*entity.Account, error) {
	ctx, span := tracer.Start(ctx, "postgres.AccountRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var account entity.Account
	if err := db.First(&account, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// DebitCredits 原子扣减余额
// 单条 UPDATE 保证同账户并发结算的串行化算术；余额允许扣成负数（先用后扣）
func (r *AccountRepository) DebitCredits(ctx context.Context, id string, amount float64) error {
	ctx, span := tracer.Start(ctx, "postgres.AccountRepository.DebitCredits")
	defer span.End()

	db := getDB(ctx, r.client.db)
	result := db.Model(&entity.Account{}).
		Where("id = ?", id).
		Update("credits", gorm.Expr("credits - ?", amount))
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to debit credits: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account not found: %s", id)
	}
	return nil
}
