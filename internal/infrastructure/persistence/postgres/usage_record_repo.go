// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"

	"telegen-ai-gateway/internal/domain/entity"
	"telegen-ai-gateway/internal/domain/repository"
)

// UsageRecordRepository 用量记录仓储实现
type UsageRecordRepository struct {
	client *Client
}

// NewUsageRecordRepository 创建用量记录仓储
func NewUsageRecordRepository(client *Client) *UsageRecordRepository {
	return &UsageRecordRepository{client: client}
}

// Create 创建用量记录
func (r *UsageRecordRepository) Create(ctx context.Context, record *entity.UsageRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.UsageRecordRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(record).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	return nil
}

// ListByAccount 获取账户的用量记录列表
func (r *UsageRecordRepository) ListByAccount(ctx context.Context, accountID string, pagination repository.Pagination) (*repository.PagedResult[*entity.UsageRecord], error) {
	ctx, span := tracer.Start(ctx, "postgres.UsageRecordRepository.ListByAccount")
	defer span.End()

	db := getDB(ctx, r.client.db)

	var total int64
	if err := db.Model(&entity.UsageRecord{}).
		Where("account_id = ?", accountID).
		Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count usage records: %w", err)
	}

	var records []*entity.UsageRecord
	if err := db.Where("account_id = ?", accountID).
		Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&records).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}

	return repository.NewPagedResult(records, total, pagination), nil
}
