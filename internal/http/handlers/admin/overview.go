package admin

import (
	"github.com/tiernet/internal/http/response"

	"github.com/gin-gonic/gin"
)

// GetOverview 后台总览
func (h *Handler) GetOverview(c *gin.Context) {
	overview, err := h.QueryService.AdminOverview(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, overview)
}
