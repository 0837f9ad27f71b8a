package worker

import (
	"context"
	"errors"
	"time"

	"github.com/tiernet/internal/config"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/queue"
	"github.com/tiernet/internal/service"

	"github.com/hibiken/asynq"
)

// Service 后台任务服务：出款队列消费与定时对账
type Service struct {
	name          string
	server        *asynq.Server
	mux           *asynq.ServeMux
	replay        *service.ReplayService
	auditInterval time.Duration
}

// NewService 创建后台任务服务；队列关闭时仅运行对账循环
func NewService(cfg *config.QueueConfig, consumer *Consumer, replay *service.ReplayService, auditInterval time.Duration) (*Service, error) {
	queueEnabled := cfg != nil && cfg.Enabled
	if !queueEnabled && (replay == nil || auditInterval <= 0) {
		return nil, errors.New("worker has nothing to run")
	}
	s := &Service{
		name:          "worker",
		replay:        replay,
		auditInterval: auditInterval,
	}
	if queueEnabled {
		if consumer == nil {
			return nil, errors.New("consumer is nil")
		}
		opt, serverCfg := queue.BuildServerConfig(cfg)
		s.server = asynq.NewServer(opt, serverCfg)
		s.mux = asynq.NewServeMux()
		consumer.Register(s.mux)
	}
	return s, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("worker not initialized")
	}
	if s.replay != nil && s.auditInterval > 0 {
		go s.runAuditLoop(ctx)
	}
	if s.server == nil || s.mux == nil {
		<-ctx.Done()
		return nil
	}
	// 退出由 ctx 控制，不走 Run 的信号等待
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.server.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runAuditLoop(ctx context.Context) {
	runOnce := func() {
		if _, err := RunAudit(ctx, s.replay); err != nil && ctx.Err() == nil {
			logger.Warnw("worker_audit_failed", "error", err)
		}
	}
	runOnce()

	ticker := time.NewTicker(s.auditInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

// RunAudit 回放流水并与成员表比对，记录差异
func RunAudit(ctx context.Context, replay *service.ReplayService) (*service.AuditReport, error) {
	if replay == nil {
		return nil, errors.New("replay service is nil")
	}
	report, err := replay.Audit(ctx)
	if err != nil {
		return nil, err
	}
	if report.Clean() {
		logger.Infow("worker_audit_clean", "members", report.Members, "entries", report.Entries)
		return report, nil
	}
	for _, drift := range report.Drifts {
		logger.Errorw("worker_audit_drift",
			"member_id", drift.MemberID,
			"field", drift.Field,
			"stored", drift.Stored,
			"replayed", drift.Replayed,
		)
	}
	return report, nil
}
