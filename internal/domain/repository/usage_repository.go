// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"telegen-ai-gateway/internal/domain/entity"
)

// UsageRecordRepository 用量记录仓储
type UsageRecordRepository interface {
	Create(ctx context.Context, record *entity.UsageRecord) error
	ListByAccount(ctx context.Context, accountID string, pagination Pagination) (*PagedResult[*entity.UsageRecord], error)
}
