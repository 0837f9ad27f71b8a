package admin

import (
	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/plan"

	handlershared "github.com/tiernet/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

// GetPlan 当前报酬计划
func (h *Handler) GetPlan(c *gin.Context) {
	p, err := h.Engine.Plan()
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, p)
}

// UpdatePlan 更新报酬计划，只影响之后的命令
func (h *Handler) UpdatePlan(c *gin.Context) {
	var req plan.Plan
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	updated, err := h.Engine.UpdatePlan(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	handlershared.RequestLog(c).Infow("admin_plan_updated", "actor", actorOf(c))
	response.Success(c, updated)
}
