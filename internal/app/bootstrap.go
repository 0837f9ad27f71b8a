package app

import (
	"errors"

	"gorm.io/gorm"

	"github.com/tiernet/internal/config"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/provider"
	"github.com/tiernet/internal/router"
	"github.com/tiernet/internal/worker"
)

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, container *provider.Container, mode string) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if container == nil {
		return nil, errors.New("container is nil")
	}
	mode, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}

	var services []Service

	// 初始化 HTTP 服务
	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container)
		services = append(services, NewHTTPService(cfg.Server, engine))
	}

	// 初始化 Worker 服务：出款消费与定时对账
	if mode == ModeAll || mode == ModeWorker {
		consumer := worker.NewConsumer(container.Engine, container.LedgerRepo, nil)
		workerService, err := worker.NewService(&cfg.Queue, consumer, container.ReplayService, cfg.Worker.AuditInterval())
		switch {
		case err == nil:
			services = append(services, workerService)
		case mode == ModeAll:
			logger.Warnw("app_worker_skipped", "error", err)
		default:
			return nil, err
		}
	}

	if len(services) == 0 {
		return nil, errors.New("no services initialized (check mode and config)")
	}

	return NewRunner(services...), nil
}

// Run 应用启动入口
func Run(opts Options, db *gorm.DB) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	container, err := provider.NewContainer(opts.Config, db)
	if err != nil {
		return err
	}
	defer container.Close()

	runner, err := BuildRunner(opts.Config, container, opts.Mode)
	if err != nil {
		return err
	}

	opts.Logger.Infow("app_start", "addr", opts.Config.Server.Addr(), "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}
