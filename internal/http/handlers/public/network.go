package public

import (
	"strconv"

	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/service"

	handlershared "github.com/tiernet/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

// GetDashboard 成员首页
func (h *Handler) GetDashboard(c *gin.Context) {
	memberID, ok := getMemberID(c)
	if !ok {
		return
	}
	dashboard, err := h.QueryService.Dashboard(c.Request.Context(), memberID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, dashboard)
}

// GetDownline 下级列表，可按层级过滤
func (h *Handler) GetDownline(c *gin.Context) {
	memberID, ok := getMemberID(c)
	if !ok {
		return
	}
	page, pageSize := handlershared.ParsePagination(c)
	level, _ := strconv.Atoi(c.DefaultQuery("level", "0"))

	result, err := h.QueryService.Downline(c.Request.Context(), memberID, service.DownlineQuery{
		Page:     page,
		PageSize: pageSize,
		Level:    level,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	pagination := response.BuildPagination(page, pageSize, int64(result.Total))
	response.SuccessWithPage(c, gin.H{
		"items":        result.Items,
		"level_counts": result.LevelCounts,
	}, pagination)
}

// GetTeamSize 团队人数
func (h *Handler) GetTeamSize(c *gin.Context) {
	memberID, ok := getMemberID(c)
	if !ok {
		return
	}
	size, err := h.QueryService.TeamSize(c.Request.Context(), memberID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"team_size": size})
}
