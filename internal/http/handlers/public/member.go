package public

import (
	"strconv"

	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/service"

	handlershared "github.com/tiernet/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

// RegisterRequest 注册请求
type RegisterRequest struct {
	SponsorUsername string `json:"sponsor_username"`
	Username        string `json:"username" binding:"required"`
	FullName        string `json:"full_name"`
	Email           string `json:"email" binding:"required"`
	Phone           string `json:"phone"`
}

// UpdateProfileRequest 资料更新请求
type UpdateProfileRequest struct {
	FullName      string      `json:"full_name"`
	Email         string      `json:"email" binding:"required"`
	Phone         string      `json:"phone"`
	PayoutDetails models.JSON `json:"payout_details"`
}

// Register 成员注册，推荐人以用户名（推荐码）指定；注册成功即签发会话令牌
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}
	member, err := h.Engine.RegisterMember(c.Request.Context(), service.RegisterMemberInput{
		SponsorUsername: req.SponsorUsername,
		Username:        req.Username,
		FullName:        req.FullName,
		Email:           req.Email,
		Phone:           req.Phone,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	token, expiresAt, err := h.Sessions.IssueMember(member.ID)
	if err != nil {
		respondError(c, response.CodeInternal, "issue session failed", err)
		return
	}
	response.Success(c, gin.H{
		"member":     member,
		"token":      token,
		"expires_at": expiresAt,
	})
}

// GetPlan 当前生效的报酬计划
func (h *Handler) GetPlan(c *gin.Context) {
	p, err := h.Engine.Plan()
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, p)
}

// GetLeaderboard 收益排行榜
func (h *Handler) GetLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	items, err := h.QueryService.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, items)
}

// GetMe 当前成员资料
func (h *Handler) GetMe(c *gin.Context) {
	memberID, ok := getMemberID(c)
	if !ok {
		return
	}
	member, err := h.QueryService.GetMember(c.Request.Context(), memberID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, member)
}

// UpdateProfile 更新资料与收款信息
func (h *Handler) UpdateProfile(c *gin.Context) {
	memberID, ok := getMemberID(c)
	if !ok {
		return
	}
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}
	member, err := h.Engine.UpdateProfile(c.Request.Context(), memberID, service.UpdateProfileInput{
		FullName:      req.FullName,
		Email:         req.Email,
		Phone:         req.Phone,
		PayoutDetails: req.PayoutDetails,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, member)
}

// Logout 注销当前会话令牌
func (h *Handler) Logout(c *gin.Context) {
	principal, ok := handlershared.GetPrincipal(c)
	if !ok {
		return
	}
	if err := h.Sessions.Revoke(c.Request.Context(), principal); err != nil {
		respondError(c, response.CodeInternal, "logout failed", err)
		return
	}
	response.SuccessWithMsg(c, "logged out", nil)
}
