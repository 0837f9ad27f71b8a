package shared

import (
	"strconv"

	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/session"

	"github.com/gin-gonic/gin"
)

// PrincipalContextKey 会话主体在 gin 上下文中的键
const PrincipalContextKey = "session_principal"

// GetPrincipal 读取已认证主体，缺失时写入 401 响应。
func GetPrincipal(c *gin.Context) (*session.Principal, bool) {
	value, exists := c.Get(PrincipalContextKey)
	if !exists {
		RespondError(c, response.CodeUnauthorized, "unauthorized", nil)
		return nil, false
	}
	principal, ok := value.(*session.Principal)
	if !ok || principal == nil {
		RespondError(c, response.CodeInternal, "session principal type invalid", nil)
		return nil, false
	}
	return principal, true
}

// GetMemberID 读取当前成员ID，非成员会话写入 403 响应。
func GetMemberID(c *gin.Context) (uint, bool) {
	principal, ok := GetPrincipal(c)
	if !ok {
		return 0, false
	}
	if !principal.IsMember() {
		RespondError(c, response.CodeForbidden, "member session required", nil)
		return 0, false
	}
	return principal.MemberID, true
}

// ParseIDParam 解析路径中的正整数ID。
func ParseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
