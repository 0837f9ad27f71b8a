package public

import (
	"strings"

	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/repository"
	"github.com/tiernet/internal/service"

	handlershared "github.com/tiernet/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// WithdrawalRequest 提现申请
type WithdrawalRequest struct {
	Amount  string      `json:"amount" binding:"required"`
	Method  string      `json:"method" binding:"required"`
	Details models.JSON `json:"details"`
}

// ListMyWithdrawals 我的提现记录与汇总
func (h *Handler) ListMyWithdrawals(c *gin.Context) {
	memberID, ok := getMemberID(c)
	if !ok {
		return
	}
	page, pageSize := handlershared.ParsePagination(c)
	filter := repository.WithdrawalListFilter{
		Page:     page,
		PageSize: pageSize,
		MemberID: memberID,
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		filter.Statuses = []string{status}
	}
	rows, total, err := h.QueryService.ListWithdrawals(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	summary, err := h.QueryService.WithdrawalSummary(c.Request.Context(), memberID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, gin.H{
		"items":   rows,
		"summary": summary,
	}, response.BuildPagination(page, pageSize, total))
}

// RequestWithdrawal 申请提现，details 为空时使用资料中的收款信息
// bank 需 account_number/bank_name/routing_number，paypal 需 paypal_email，crypto 需 wallet_address
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	memberID, ok := getMemberID(c)
	if !ok {
		return
	}
	var req WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		response.FieldError(c, "amount", "amount must be a decimal")
		return
	}
	details := req.Details
	if len(details) == 0 {
		member, err := h.QueryService.GetMember(c.Request.Context(), memberID)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		details = member.PayoutDetails
	}
	entry, err := h.Engine.RequestWithdrawal(c.Request.Context(), service.RequestWithdrawalInput{
		MemberID: memberID,
		Amount:   amount,
		Method:   req.Method,
		Details:  details,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, entry)
}

// CancelWithdrawal 取消自己仍在 pending 的提现
func (h *Handler) CancelWithdrawal(c *gin.Context) {
	memberID, ok := getMemberID(c)
	if !ok {
		return
	}
	entryID, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	entry, err := h.Engine.CancelWithdrawal(c.Request.Context(), memberID, entryID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, entry)
}
