package admin

import (
	"strings"
	"time"

	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// SaleRequest 录入销售
type SaleRequest struct {
	MemberID   uint       `json:"member_id" binding:"required"`
	Amount     string     `json:"amount" binding:"required"`
	Reference  string     `json:"reference"`
	OccurredAt *time.Time `json:"occurred_at"`
}

func parseSaleAmount(c *gin.Context, raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		response.FieldError(c, "amount", "amount must be a decimal")
		return decimal.Zero, false
	}
	return amount, true
}

// RecordSale 录入销售并发放佣金
func (h *Handler) RecordSale(c *gin.Context) {
	var req SaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	amount, ok := parseSaleAmount(c, req.Amount)
	if !ok {
		return
	}
	input := service.RecordSaleInput{
		MemberID:  req.MemberID,
		Amount:    amount,
		Reference: strings.TrimSpace(req.Reference),
	}
	if req.OccurredAt != nil {
		input.OccurredAt = req.OccurredAt.UTC()
	}
	result, err := h.Engine.RecordSale(c.Request.Context(), input)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, result)
}

// PreviewSale 预览一笔销售的佣金分配，不落库
func (h *Handler) PreviewSale(c *gin.Context) {
	var req SaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	amount, ok := parseSaleAmount(c, req.Amount)
	if !ok {
		return
	}
	shares, err := h.Engine.PreviewSale(c.Request.Context(), req.MemberID, amount)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	total := decimal.Zero
	for _, share := range shares {
		total = total.Add(share.Amount)
	}
	response.Success(c, gin.H{
		"shares": shares,
		"total":  total.StringFixed(2),
	})
}
