package provider

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tiernet/internal/authz"
	"github.com/tiernet/internal/cache"
	"github.com/tiernet/internal/config"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/queue"
	"github.com/tiernet/internal/repository"
	"github.com/tiernet/internal/service"
	"github.com/tiernet/internal/session"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	DB          *gorm.DB
	Redis       *cache.Redis
	QueryCache  *cache.QueryCache
	QueueClient *queue.Client

	// Repositories
	MemberRepo  repository.MemberRepository
	LedgerRepo  repository.LedgerRepository
	SettingRepo repository.SettingRepository
	AuditRepo   repository.AuthzAuditLogRepository

	// Services
	AuthzService   *authz.Service
	AuthzAudit     *service.AuthzAuditService
	Sessions       *session.Provider
	SettingService *service.SettingService
	Engine         *service.Engine
	QueryService   *service.QueryService
	ReplayService  *service.ReplayService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config, db *gorm.DB) (*Container, error) {
	if cfg == nil || db == nil {
		return nil, fmt.Errorf("container requires config and db")
	}

	c := &Container{
		Config: cfg,
		DB:     db,
	}

	// 初始化缓存
	c.Redis = cache.NewRedis(&cfg.Redis)
	c.QueryCache = cache.NewQueryCache(c.Redis, cfg.Cache.LRUSize, cfg.Cache.TTL())

	// 初始化队列客户端
	queueClient, err := queue.NewClient(&cfg.Queue, cfg.Worker.PayoutMaxRetry)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		return nil, err
	}
	c.QueueClient = queueClient

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化 Services
	if err := c.initServices(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) initRepositories() {
	c.MemberRepo = repository.NewMemberRepository(c.DB)
	c.LedgerRepo = repository.NewLedgerRepository(c.DB)
	c.SettingRepo = repository.NewSettingRepository(c.DB)
	c.AuditRepo = repository.NewAuthzAuditLogRepository(c.DB)
}

func (c *Container) initServices() error {
	authzService, err := authz.NewService(c.DB)
	if err != nil {
		logger.Errorw("provider_init_authz_failed", "error", err)
		return err
	}
	c.AuthzService = authzService
	if err := c.AuthzService.BootstrapBuiltinRoles(); err != nil {
		logger.Errorw("provider_bootstrap_builtin_roles_failed", "error", err)
		return err
	}
	c.AuthzAudit = service.NewAuthzAuditService(c.AuditRepo)

	defaults, err := c.Config.Plan.ToPlan()
	if err != nil {
		logger.Errorw("provider_plan_config_invalid", "error", err)
		return err
	}
	c.SettingService = service.NewSettingService(c.SettingRepo, defaults)

	revocations := cache.NewSessionRevocations(c.Redis, time.Duration(c.Config.Session.ExpireHours)*time.Hour)
	c.Sessions = session.NewProvider(c.Config.Session, revocations)

	location := c.Config.App.Location()
	engineOpts := service.EngineOptions{
		Location: location,
		Cache:    c.QueryCache,
	}
	if c.Config.Worker.PayoutEnabled {
		engineOpts.Payouts = c.QueueClient
	}
	c.Engine = service.NewEngine(c.DB, c.MemberRepo, c.LedgerRepo, c.SettingService, engineOpts)
	c.QueryService = service.NewQueryService(c.DB, c.MemberRepo, c.LedgerRepo, c.SettingService, service.QueryOptions{
		Cache:    c.QueryCache,
		CacheTTL: c.Config.Cache.TTL(),
		Location: location,
	})
	c.ReplayService = service.NewReplayService(c.DB, c.MemberRepo, c.LedgerRepo, c.SettingService)
	return nil
}

// Close 释放外部连接
func (c *Container) Close() {
	if c == nil {
		return
	}
	if err := c.QueueClient.Close(); err != nil {
		logger.Warnw("provider_close_queue_client_failed", "error", err)
	}
	if err := c.Redis.Close(); err != nil {
		logger.Warnw("provider_close_redis_failed", "error", err)
	}
}
