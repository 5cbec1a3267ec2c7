// Package handler 提供 HTTP 请求处理器
package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"telegen-ai-gateway/internal/domain/entity"
	"telegen-ai-gateway/internal/domain/repository"
	"telegen-ai-gateway/internal/interfaces/http/dto"
	"telegen-ai-gateway/pkg/errors"
)

// AccountHandler 账户查询处理器
type AccountHandler struct {
	accounts repository.AccountRepository
	usage    repository.UsageRecordRepository
}

// NewAccountHandler 创建账户查询处理器
func NewAccountHandler(accounts repository.AccountRepository, usage repository.UsageRecordRepository) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		usage:    usage,
	}
}

// Get 查询账户余额
// @Summary 查询账户
// @Tags Accounts
// @Produce json
// @Param id path string true "账户 ID"
// @Success 200 {object} dto.Response[entity.Account]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/accounts/{id} [get]
func (h *AccountHandler) Get(c *gin.Context) {
	account, err := h.accounts.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		dto.Error(c, errors.Wrap(err, errors.CodeDatabaseError, "failed to load account"))
		return
	}
	if account == nil {
		dto.Error(c, errors.New(errors.CodeNotFound, "account not found"))
		return
	}
	dto.Success[*entity.Account](c, account)
}

// Usage 查询账户用量记录
// @Summary 查询账户用量记录
// @Tags Accounts
// @Produce json
// @Param id path string true "账户 ID"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} dto.Response[[]entity.UsageRecord]
// @Router /v1/accounts/{id}/usage [get]
func (h *AccountHandler) Usage(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	pagination := repository.NewPagination(page, pageSize)

	result, err := h.usage.ListByAccount(c.Request.Context(), c.Param("id"), pagination)
	if err != nil {
		dto.Error(c, errors.Wrap(err, errors.CodeDatabaseError, "failed to list usage records"))
		return
	}

	dto.SuccessWithPage(c, result.Items,
		dto.NewPageMeta(result.Page, result.PageSize, int(result.Total)))
}
