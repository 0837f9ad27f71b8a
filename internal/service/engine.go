package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/metrics"
	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/plan"
	"github.com/tiernet/internal/repository"
)

// CacheInvalidator 查询缓存失效接口
type CacheInvalidator interface {
	InvalidateAll(ctx context.Context)
}

// PayoutScheduler 提现出款任务调度接口
type PayoutScheduler interface {
	Enabled() bool
	EnqueueWithdrawalPayout(entryID uint) error
}

// EngineOptions 引擎可选依赖
type EngineOptions struct {
	Now      func() time.Time
	Location *time.Location
	Cache    CacheInvalidator
	Payouts  PayoutScheduler
}

// Engine 写命令入口：注册、销售、提现及后台调整
//
// 所有写命令由同一把锁串行执行，并各自在单个数据库事务内完成。
type Engine struct {
	mu         sync.Mutex
	db         *gorm.DB
	memberRepo repository.MemberRepository
	ledgerRepo repository.LedgerRepository
	settings   *SettingService
	validate   *validator.Validate
	now        func() time.Time
	location   *time.Location
	cache      CacheInvalidator
	payouts    PayoutScheduler
}

// NewEngine 创建引擎
func NewEngine(
	db *gorm.DB,
	memberRepo repository.MemberRepository,
	ledgerRepo repository.LedgerRepository,
	settings *SettingService,
	opts EngineOptions,
) *Engine {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	location := opts.Location
	if location == nil {
		location = time.UTC
	}
	return &Engine{
		db:         db,
		memberRepo: memberRepo,
		ledgerRepo: ledgerRepo,
		settings:   settings,
		validate:   newInputValidator(),
		now:        now,
		location:   location,
		cache:      opts.Cache,
		payouts:    opts.Payouts,
	}
}

// unit 绑定到同一事务的组件集合
type unit struct {
	plan       plan.Plan
	members    repository.MemberRepository
	ledgerRepo repository.LedgerRepository
	network    *NetworkStore
	ledger     *Ledger
	commission *CommissionEngine
	ranks      *RankEvaluator
}

func (e *Engine) bind(tx *gorm.DB, p plan.Plan) *unit {
	members := e.memberRepo.WithTx(tx)
	ledgerRepo := e.ledgerRepo.WithTx(tx)
	network := NewNetworkStore(members, p.MaxDepth)
	ledger := NewLedger(ledgerRepo, e.now)
	return &unit{
		plan:       p,
		members:    members,
		ledgerRepo: ledgerRepo,
		network:    network,
		ledger:     ledger,
		commission: NewCommissionEngine(network, ledger, members),
		ranks:      NewRankEvaluator(network, members),
	}
}

// write 在写锁与事务内执行命令；失败时事务整体回滚
func (e *Engine) write(ctx context.Context, command string, fn func(u *unit) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.runWrite(ctx, fn)
	metrics.ObserveCommand(command, err)
	if err != nil {
		if isDomainError(err) && !isStorageError(err) {
			logger.Debugw("engine_command_rejected", "command", command, "error", err)
		} else {
			logger.Errorw("engine_command_failed", "command", command, "error", err)
		}
		return err
	}
	if e.cache != nil {
		e.cache.InvalidateAll(ctx)
	}
	return nil
}

func (e *Engine) runWrite(ctx context.Context, fn func(u *unit) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := e.settings.GetPlan()
	if err != nil {
		return storageError(err)
	}
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(e.bind(tx, p))
	})
	return storageError(err)
}

// Plan 当前生效的报酬计划
func (e *Engine) Plan() (plan.Plan, error) {
	p, err := e.settings.GetPlan()
	if err != nil {
		return p, storageError(err)
	}
	return p, nil
}

func (e *Engine) dayWindow(t time.Time) (time.Time, time.Time) {
	return dayWindow(t, e.location)
}

// dayWindow 按时区计算 t 所在自然日的 UTC 区间
func dayWindow(t time.Time, location *time.Location) (time.Time, time.Time) {
	local := t.In(location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, location)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// UpdatePlan 保存新的报酬计划，与其他写命令串行，已有流水不重算
//
// 等级阶梯变化时追加 plan_change 流水，并在同一事务内按新阶梯重评全部成员（只升不降），
// 回放据此流水切换阶梯。
func (e *Engine) UpdatePlan(ctx context.Context, p plan.Plan) (plan.Plan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var updated plan.Plan
	ranksChanged := false
	promoted := 0
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings := e.settings.withTx(tx)
		previous, err := settings.GetPlan()
		if err != nil {
			return err
		}
		updated, err = settings.UpdatePlan(p)
		if err != nil {
			return err
		}
		if previous.Ranks.Equal(updated.Ranks) {
			return nil
		}
		ranksChanged = true
		u := e.bind(tx, updated)
		if _, err := u.ledger.Append(&models.LedgerEntry{
			Kind:   constants.LedgerKindPlanChange,
			Amount: models.NewMoneyFromDecimal(decimal.Zero),
			Meta: models.JSON{
				planMetaPreviousRanks: previous.Ranks,
				planMetaRanks:         updated.Ranks,
			},
		}); err != nil {
			return err
		}
		promoted, err = promoteAll(u)
		return err
	})
	err = storageError(err)
	metrics.ObserveCommand("update_plan", err)
	if err != nil {
		logger.Warnw("engine_plan_update_failed", "error", err)
		return updated, err
	}
	logger.Infow("engine_plan_updated",
		"levels", updated.Commission.MaxLevel(),
		"inactive_policy", updated.InactivePolicy,
		"ranks_changed", ranksChanged,
		"promoted", promoted,
	)
	if e.cache != nil {
		e.cache.InvalidateAll(ctx)
	}
	return updated, nil
}

// promoteAll 按当前阶梯重评全部成员，返回晋级人数
func promoteAll(u *unit) (int, error) {
	promoted := 0
	var afterID uint
	for {
		batch, err := u.members.ListAfterID(afterID, replayBatchSize)
		if err != nil {
			return promoted, err
		}
		for _, member := range batch {
			afterID = member.ID
			before, after, err := u.ranks.Reevaluate(member.ID, u.plan.Ranks)
			if err != nil {
				return promoted, err
			}
			if after != before {
				promoted++
			}
		}
		if len(batch) < replayBatchSize {
			return promoted, nil
		}
	}
}
