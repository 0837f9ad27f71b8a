package admin

import (
	"github.com/tiernet/internal/http/response"

	"github.com/gin-gonic/gin"
)

// RunAudit 按流水重放核对成员余额与统计
func (h *Handler) RunAudit(c *gin.Context) {
	report, err := h.ReplayService.Audit(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"clean":  report.Clean(),
		"report": report,
	})
}
