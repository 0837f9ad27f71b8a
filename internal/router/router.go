package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tiernet/internal/authz"
	"github.com/tiernet/internal/config"
	adminhandlers "github.com/tiernet/internal/http/handlers/admin"
	publichandlers "github.com/tiernet/internal/http/handlers/public"
	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/provider"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	// 初始化 Handler（按前台/后台分组）
	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "tn"
	}
	redisClient := c.Redis.Client()
	registerRule := RateLimitRule{
		Name:          "register",
		Prefix:        fmt.Sprintf("%s:rate:register", redisPrefix),
		WindowSeconds: cfg.Security.RegisterRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.RegisterRateLimit.MaxAttempts,
		BlockSeconds:  cfg.Security.RegisterRateLimit.BlockSeconds,
		Message:       "too many registrations, try again later",
	}
	withdrawRule := RateLimitRule{
		Name:          "withdraw",
		Prefix:        fmt.Sprintf("%s:rate:withdraw", redisPrefix),
		WindowSeconds: cfg.Security.WithdrawRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.WithdrawRateLimit.MaxAttempts,
		BlockSeconds:  cfg.Security.WithdrawRateLimit.BlockSeconds,
		Message:       "too many withdrawal requests, try again later",
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware(cfg.CORS))

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		// 公开接口
		apiV1.GET("/plan", publicHandler.GetPlan)
		apiV1.GET("/leaderboard", publicHandler.GetLeaderboard)
		apiV1.POST("/members/register", RateLimitMiddleware(redisClient, registerRule, KeyByIP), publicHandler.Register)

		// 成员接口（需鉴权）
		member := apiV1.Group("/me")
		member.Use(SessionAuthMiddleware(c.Sessions), RequireMember())
		{
			member.GET("", publicHandler.GetMe)
			member.PUT("/profile", publicHandler.UpdateProfile)
			member.POST("/logout", publicHandler.Logout)
			member.GET("/dashboard", publicHandler.GetDashboard)
			member.GET("/downline", publicHandler.GetDownline)
			member.GET("/team-size", publicHandler.GetTeamSize)
			member.GET("/earnings", publicHandler.GetEarnings)
			member.GET("/earnings/breakdown", publicHandler.GetEarningsBreakdown)
			member.GET("/ledger", publicHandler.GetLedger)
			member.GET("/withdrawals", publicHandler.ListMyWithdrawals)
			member.POST("/withdrawals", RateLimitMiddleware(redisClient, withdrawRule, KeyByMember), publicHandler.RequestWithdrawal)
			member.POST("/withdrawals/:id/cancel", publicHandler.CancelWithdrawal)
		}

		// 后台接口（会话鉴权 + casbin 角色策略）
		admin := apiV1.Group("/admin")
		admin.Use(SessionAuthMiddleware(c.Sessions), AdminRBACMiddleware(c.AuthzService))
		{
			admin.GET("/overview", adminHandler.GetOverview)

			// 成员管理
			admin.GET("/members", adminHandler.ListMembers)
			admin.GET("/members/:id", adminHandler.GetMember)
			admin.GET("/members/:id/ledger", adminHandler.GetMemberLedger)
			admin.PUT("/members/:id/status", adminHandler.UpdateMemberStatus)
			admin.PUT("/members/:id/sponsor", adminHandler.UpdateMemberSponsor)

			// 销售
			admin.POST("/sales", adminHandler.RecordSale)
			admin.POST("/sales/preview", adminHandler.PreviewSale)

			// 提现
			admin.GET("/withdrawals", adminHandler.ListWithdrawals)
			admin.GET("/withdrawals/:id/transitions", adminHandler.GetWithdrawalTransitions)
			admin.POST("/withdrawals/:id/process", adminHandler.ProcessWithdrawal)
			admin.POST("/withdrawals/:id/complete", adminHandler.CompleteWithdrawal)
			admin.POST("/withdrawals/:id/fail", adminHandler.FailWithdrawal)

			// 计划与对账
			admin.GET("/plan", adminHandler.GetPlan)
			admin.PUT("/plan", adminHandler.UpdatePlan)
			admin.POST("/audit", adminHandler.RunAudit)

			// 权限
			admin.GET("/authz/me", adminHandler.GetAuthzMe)
			admin.GET("/authz/roles", adminHandler.ListAuthzRoles)
			admin.GET("/authz/policies", adminHandler.GetAuthzRolePolicies)
			admin.POST("/authz/policies", adminHandler.GrantAuthzPolicy)
			admin.DELETE("/authz/policies", adminHandler.RevokeAuthzPolicy)
			admin.GET("/authz/audit-logs", adminHandler.ListAuthzAuditLogs)
			admin.GET("/authz/permissions", func(ctx *gin.Context) {
				response.Success(ctx, buildAdminPermissionCatalog(r))
			})
		}
	}

	// 健康检查
	r.GET("/health", func(ctx *gin.Context) {
		if err := c.Redis.Ping(ctx.Request.Context()); err != nil {
			ctx.JSON(503, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		ctx.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.NoRoute(func(ctx *gin.Context) {
		response.NotFound(ctx, "route not found")
	})

	return r
}

type adminPermissionCatalogItem struct {
	Module     string `json:"module"`
	Method     string `json:"method"`
	Object     string `json:"object"`
	Permission string `json:"permission"`
}

func buildAdminPermissionCatalog(engine *gin.Engine) []adminPermissionCatalogItem {
	if engine == nil {
		return []adminPermissionCatalogItem{}
	}

	routes := engine.Routes()
	seen := make(map[string]struct{}, len(routes))
	items := make([]adminPermissionCatalogItem, 0, len(routes))

	for _, item := range routes {
		method := strings.ToUpper(strings.TrimSpace(item.Method))
		if method == "" || method == "OPTIONS" || method == "HEAD" {
			continue
		}
		if !strings.HasPrefix(item.Path, "/api/v1/admin/") {
			continue
		}
		object := authz.NormalizeObject(item.Path)
		permission := method + ":" + object
		if _, exists := seen[permission]; exists {
			continue
		}
		seen[permission] = struct{}{}
		items = append(items, adminPermissionCatalogItem{
			Module:     deriveAdminPermissionModule(object),
			Method:     method,
			Object:     object,
			Permission: permission,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Module == items[j].Module {
			if items[i].Object == items[j].Object {
				return items[i].Method < items[j].Method
			}
			return items[i].Object < items[j].Object
		}
		return items[i].Module < items[j].Module
	})

	return items
}

func deriveAdminPermissionModule(object string) string {
	normalized := strings.TrimPrefix(strings.TrimSpace(object), "/")
	if normalized == "" {
		return "system"
	}
	segments := strings.Split(normalized, "/")
	if len(segments) <= 1 {
		return segments[0]
	}
	if segments[0] != "admin" {
		return segments[0]
	}
	if segments[1] == "authz" {
		return "authz"
	}
	return segments[1]
}
