package admin

import (
	"errors"
	"strings"

	"github.com/tiernet/internal/authz"
	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/repository"
	"github.com/tiernet/internal/service"

	handlershared "github.com/tiernet/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

type authzPolicyPayload struct {
	Role   string `json:"role" binding:"required"`
	Object string `json:"object" binding:"required"`
	Action string `json:"action" binding:"required"`
}

// GetAuthzMe 当前会话角色及其策略
func (h *Handler) GetAuthzMe(c *gin.Context) {
	principal, ok := handlershared.GetPrincipal(c)
	if !ok {
		respondError(c, response.CodeUnauthorized, "unauthorized", nil)
		return
	}
	policies, err := h.AuthzService.GetEffectivePolicies(principal.Role)
	if err != nil {
		respondAuthzError(c, "authz lookup failed", err)
		return
	}
	response.Success(c, gin.H{
		"subject":  principal.Subject,
		"role":     principal.Role,
		"policies": policies,
	})
}

// ListAuthzRoles 角色列表
func (h *Handler) ListAuthzRoles(c *gin.Context) {
	roles, err := h.AuthzService.ListRoles()
	if err != nil {
		respondAuthzError(c, "authz lookup failed", err)
		return
	}
	response.Success(c, roles)
}

// GetAuthzRolePolicies 角色策略
func (h *Handler) GetAuthzRolePolicies(c *gin.Context) {
	role := strings.TrimSpace(c.Query("role"))
	if role == "" {
		respondError(c, response.CodeBadRequest, "role is required", nil)
		return
	}
	policies, err := h.AuthzService.GetRolePolicies(role)
	if err != nil {
		respondAuthzError(c, "invalid role", err)
		return
	}
	response.Success(c, policies)
}

// GrantAuthzPolicy 授予角色策略
func (h *Handler) GrantAuthzPolicy(c *gin.Context) {
	var req authzPolicyPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := h.AuthzService.GrantRolePolicy(req.Role, req.Object, req.Action); err != nil {
		respondAuthzError(c, "grant policy failed", err)
		return
	}
	handlershared.RequestLog(c).Infow("admin_authz_policy_granted",
		"actor", actorOf(c),
		"role", req.Role,
		"object", req.Object,
		"action", req.Action,
	)
	h.recordAuthzAudit(c, service.AuthzAuditActionGrant, req)
	response.Success(c, gin.H{"granted": true})
}

// RevokeAuthzPolicy 撤销角色策略
func (h *Handler) RevokeAuthzPolicy(c *gin.Context) {
	var req authzPolicyPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := h.AuthzService.RevokeRolePolicy(req.Role, req.Object, req.Action); err != nil {
		respondAuthzError(c, "revoke policy failed", err)
		return
	}
	handlershared.RequestLog(c).Infow("admin_authz_policy_revoked",
		"actor", actorOf(c),
		"role", req.Role,
		"object", req.Object,
		"action", req.Action,
	)
	h.recordAuthzAudit(c, service.AuthzAuditActionRevoke, req)
	response.Success(c, gin.H{"revoked": true})
}

// respondAuthzError 规则校验失败为 400，其余为 500
func respondAuthzError(c *gin.Context, msg string, err error) {
	for _, target := range []error{
		authz.ErrRoleRequired,
		authz.ErrReservedRole,
		authz.ErrImmutableRole,
		authz.ErrObjectOutOfScope,
		authz.ErrInvalidAction,
	} {
		if errors.Is(err, target) {
			respondError(c, response.CodeBadRequest, target.Error(), err)
			return
		}
	}
	respondError(c, response.CodeInternal, msg, err)
}

func (h *Handler) recordAuthzAudit(c *gin.Context, action string, req authzPolicyPayload) {
	input := service.AuthzAuditRecordInput{
		Action:    action,
		Role:      req.Role,
		Object:    req.Object,
		Method:    req.Action,
		RequestID: c.GetString("request_id"),
	}
	if principal, ok := handlershared.GetPrincipal(c); ok {
		input.OperatorSubject = principal.Subject
		input.OperatorRole = principal.Role
	}
	if err := h.AuthzAudit.Record(input); err != nil {
		handlershared.RequestLog(c).Warnw("admin_authz_audit_record_failed", "action", action, "error", err)
	}
}

// ListAuthzAuditLogs 权限变更审计日志
func (h *Handler) ListAuthzAuditLogs(c *gin.Context) {
	page, pageSize := handlershared.ParsePagination(c)
	loc := h.Config.App.Location()
	from, ok := handlershared.ParseTimeQuery(c, "from", loc)
	if !ok {
		return
	}
	to, ok := handlershared.ParseTimeQuery(c, "to", loc)
	if !ok {
		return
	}
	filter := repository.AuthzAuditLogListFilter{
		Page:            page,
		PageSize:        pageSize,
		OperatorSubject: strings.TrimSpace(c.Query("operator")),
		Action:          strings.TrimSpace(c.Query("action")),
		Role:            strings.TrimSpace(c.Query("role")),
	}
	if !from.IsZero() {
		filter.CreatedFrom = &from
	}
	if !to.IsZero() {
		filter.CreatedTo = &to
	}
	logs, total, err := h.AuthzAudit.List(filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, logs, response.BuildPagination(page, pageSize, total))
}
