package admin

import (
	"strconv"
	"strings"

	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/repository"
	"github.com/tiernet/internal/service"

	handlershared "github.com/tiernet/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

// MemberStatusRequest 启用/停用成员
type MemberStatusRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// MemberSponsorRequest 调整推荐人，sponsor_id 为空表示设为根节点
type MemberSponsorRequest struct {
	SponsorID *uint `json:"sponsor_id"`
}

// ListMembers 成员列表
func (h *Handler) ListMembers(c *gin.Context) {
	page, pageSize := handlershared.ParsePagination(c)
	filter := repository.MemberListFilter{
		Page:     page,
		PageSize: pageSize,
		Keyword:  strings.TrimSpace(c.Query("keyword")),
		Rank:     strings.TrimSpace(c.Query("rank")),
	}
	if raw := strings.TrimSpace(c.Query("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, response.CodeBadRequest, "invalid active", err)
			return
		}
		filter.Active = &active
	}
	if raw := strings.TrimSpace(c.Query("sponsor_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			respondError(c, response.CodeBadRequest, "invalid sponsor_id", err)
			return
		}
		sponsorID := uint(id)
		filter.SponsorID = &sponsorID
	}

	members, total, err := h.QueryService.ListMembers(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, members, response.BuildPagination(page, pageSize, total))
}

// GetMember 成员详情（含团队规模与提现汇总）
func (h *Handler) GetMember(c *gin.Context) {
	memberID, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	member, err := h.QueryService.GetMember(ctx, memberID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	teamSize, err := h.QueryService.TeamSize(ctx, memberID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	summary, err := h.QueryService.WithdrawalSummary(ctx, memberID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"member":      member,
		"team_size":   teamSize,
		"withdrawals": summary,
	})
}

// GetMemberLedger 成员流水
func (h *Handler) GetMemberLedger(c *gin.Context) {
	memberID, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	entries, err := h.QueryService.History(c.Request.Context(), memberID, ledgerFilterFromQuery(c), limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, entries)
}

// UpdateMemberStatus 启用/停用成员
func (h *Handler) UpdateMemberStatus(c *gin.Context) {
	memberID, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	var req MemberStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	member, err := h.Engine.SetMemberActive(c.Request.Context(), memberID, *req.Active)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, member)
}

// UpdateMemberSponsor 调整推荐关系
func (h *Handler) UpdateMemberSponsor(c *gin.Context) {
	memberID, ok := handlershared.ParseIDParam(c, "id")
	if !ok {
		return
	}
	var req MemberSponsorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	member, err := h.Engine.ChangeSponsor(c.Request.Context(), memberID, req.SponsorID, actorOf(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, member)
}

func ledgerFilterFromQuery(c *gin.Context) service.LedgerFilter {
	filter := service.LedgerFilter{Source: strings.TrimSpace(c.Query("source"))}
	for _, kind := range strings.Split(c.Query("kind"), ",") {
		if kind = strings.TrimSpace(kind); kind != "" {
			filter.Kinds = append(filter.Kinds, kind)
		}
	}
	return filter
}
