package admin

import (
	"strconv"
	"strings"

	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/repository"

	handlershared "github.com/tiernet/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

// CompleteWithdrawalRequest 完成出款
type CompleteWithdrawalRequest struct {
	Reference string `json:"reference"`
}

// FailWithdrawalRequest 出款失败
type FailWithdrawalRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ListWithdrawals 提现列表
func (h *Handler) ListWithdrawals(c *gin.Context) {
	page, pageSize := handlershared.ParsePagination(c)
	filter := repository.WithdrawalListFilter{
		Page:      page,
		PageSize:  pageSize,
		Method:    strings.TrimSpace(c.Query("method")),
		Reference: strings.TrimSpace(c.Query("reference")),
	}
	for _, status := range strings.Split(c.Query("status"), ",") {
		if status = strings.TrimSpace(status); status != "" {
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := strings.TrimSpace(c.Query("member_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(c, response.CodeBadRequest, "invalid member_id", err)
			return
		}
		filter.MemberID = uint(id)
	}
	rows, total, err := h.QueryService.ListWithdrawals(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, rows, response.BuildPagination(page, pageSize, total))
}

// GetWithdrawalTransitions 提现状态迁移记录
func (h *Handler) GetWithdrawalTransitions(c *gin.Context) {
	entryID, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	rows, err := h.QueryService.WithdrawalTransitions(c.Request.Context(), entryID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, rows)
}

// ProcessWithdrawal pending -> processing
func (h *Handler) ProcessWithdrawal(c *gin.Context) {
	entryID, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	entry, err := h.Engine.StartWithdrawalProcessing(c.Request.Context(), entryID, actorOf(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, entry)
}

// CompleteWithdrawal processing -> completed
func (h *Handler) CompleteWithdrawal(c *gin.Context) {
	entryID, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	var req CompleteWithdrawalRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err)
			return
		}
	}
	entry, err := h.Engine.CompleteWithdrawal(c.Request.Context(), entryID, actorOf(c), strings.TrimSpace(req.Reference))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, entry)
}

// FailWithdrawal processing -> failed，退回余额
func (h *Handler) FailWithdrawal(c *gin.Context) {
	entryID, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	var req FailWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	entry, err := h.Engine.FailWithdrawal(c.Request.Context(), entryID, actorOf(c), strings.TrimSpace(req.Reason))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, entry)
}
