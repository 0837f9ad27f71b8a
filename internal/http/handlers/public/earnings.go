package public

import (
	"strconv"
	"strings"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/service"

	handlershared "github.com/tiernet/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

const defaultHistoryLimit = 50

// GetEarnings 佣金收益明细（倒序）
func (h *Handler) GetEarnings(c *gin.Context) {
	h.respondHistory(c, []string{constants.LedgerKindCommissionCredit})
}

// GetLedger 全部流水（倒序），可按 kind 过滤
func (h *Handler) GetLedger(c *gin.Context) {
	var kinds []string
	for _, kind := range strings.Split(c.Query("kind"), ",") {
		if kind = strings.TrimSpace(kind); kind != "" {
			kinds = append(kinds, kind)
		}
	}
	h.respondHistory(c, kinds)
}

func (h *Handler) respondHistory(c *gin.Context, kinds []string) {
	memberID, ok := getMemberID(c)
	if !ok {
		return
	}
	loc := h.Config.App.Location()
	from, ok := handlershared.ParseTimeQuery(c, "from", loc)
	if !ok {
		return
	}
	to, ok := handlershared.ParseTimeQuery(c, "to", loc)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}

	entries, err := h.QueryService.History(c.Request.Context(), memberID, service.LedgerFilter{
		From:   from,
		To:     to,
		Kinds:  kinds,
		Source: strings.TrimSpace(c.Query("source")),
	}, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, entries)
}

// GetEarningsBreakdown 收益按层级与来源汇总
func (h *Handler) GetEarningsBreakdown(c *gin.Context) {
	memberID, ok := getMemberID(c)
	if !ok {
		return
	}
	breakdown, err := h.QueryService.EarningsBreakdown(c.Request.Context(), memberID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, breakdown)
}
