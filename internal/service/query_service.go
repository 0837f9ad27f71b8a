package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/plan"
	"github.com/tiernet/internal/repository"
)

// QueryCache 查询结果缓存
type QueryCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// QueryService 只读聚合视图，结果均可由流水与推荐树重新推导
type QueryService struct {
	db         *gorm.DB
	memberRepo repository.MemberRepository
	ledgerRepo repository.LedgerRepository
	settings   *SettingService
	cache      QueryCache
	cacheTTL   time.Duration
	now        func() time.Time
	location   *time.Location
}

// QueryOptions 查询服务可选依赖
type QueryOptions struct {
	Cache    QueryCache
	CacheTTL time.Duration
	Now      func() time.Time
	Location *time.Location
}

// NewQueryService 创建查询服务
func NewQueryService(db *gorm.DB, memberRepo repository.MemberRepository, ledgerRepo repository.LedgerRepository, settings *SettingService, opts QueryOptions) *QueryService {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	location := opts.Location
	if location == nil {
		location = time.UTC
	}
	return &QueryService{
		db:         db,
		memberRepo: memberRepo,
		ledgerRepo: ledgerRepo,
		settings:   settings,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		now:        now,
		location:   location,
	}
}

// snapshot 在只读事务内执行，保证多次读取看到同一版本
func (s *QueryService) snapshot(ctx context.Context, fn func(members repository.MemberRepository, ledgerRepo repository.LedgerRepository, p plan.Plan) error) error {
	p, err := s.settings.GetPlan()
	if err != nil {
		return storageError(err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.memberRepo.WithTx(tx), s.ledgerRepo.WithTx(tx), p)
	})
	return storageError(err)
}

// cached 读缓存，未命中时计算并回写
func cached[T any](ctx context.Context, s *QueryService, key string, load func() (T, error)) (T, error) {
	var value T
	if s.cache != nil && s.cacheTTL > 0 {
		hit, err := s.cache.GetJSON(ctx, key, &value)
		if err != nil {
			logger.Debugw("query_cache_get_failed", "key", key, "error", err)
		}
		if hit {
			return value, nil
		}
	}
	value, err := load()
	if err != nil {
		return value, err
	}
	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.SetJSON(ctx, key, value, s.cacheTTL); err != nil {
			logger.Debugw("query_cache_set_failed", "key", key, "error", err)
		}
	}
	return value, nil
}

// GetMember 获取成员
func (s *QueryService) GetMember(ctx context.Context, memberID uint) (*models.Member, error) {
	member, err := s.memberRepo.WithTx(s.db.WithContext(ctx)).GetByID(memberID)
	if err != nil {
		return nil, storageError(err)
	}
	if member == nil {
		return nil, ErrUnknownMember
	}
	return member, nil
}

// TeamSize 全部下级人数
func (s *QueryService) TeamSize(ctx context.Context, memberID uint) (int, error) {
	return cached(ctx, s, fmt.Sprintf("team_size:%d", memberID), func() (int, error) {
		size := 0
		err := s.snapshot(ctx, func(members repository.MemberRepository, _ repository.LedgerRepository, p plan.Plan) error {
			descendants, err := NewNetworkStore(members, p.MaxDepth).GetDescendants(memberID)
			size = len(descendants)
			return err
		})
		return size, err
	})
}

// DownlineItem 下级列表项
type DownlineItem struct {
	ID              uint         `json:"id"`
	SponsorID       *uint        `json:"sponsor_id,omitempty"`
	Username        string       `json:"username"`
	FullName        string       `json:"full_name"`
	Level           int          `json:"level"`
	JoinedAt        time.Time    `json:"joined_at"`
	Active          bool         `json:"active"`
	Rank            string       `json:"rank"`
	DirectReferrals int          `json:"direct_referrals"`
	TotalEarnings   models.Money `json:"total_earnings"`
}

// DownlinePage 下级分页结果
type DownlinePage struct {
	Items       []DownlineItem `json:"items"`
	Total       int            `json:"total"`
	LevelCounts map[int]int    `json:"level_counts"`
}

// DownlineQuery 下级查询条件
type DownlineQuery struct {
	Page     int
	PageSize int
	Level    int
}

// Downline 下级列表（含层级），按层级再按ID排序
func (s *QueryService) Downline(ctx context.Context, memberID uint, q DownlineQuery) (*DownlinePage, error) {
	result := &DownlinePage{Items: []DownlineItem{}, LevelCounts: map[int]int{}}
	err := s.snapshot(ctx, func(members repository.MemberRepository, _ repository.LedgerRepository, p plan.Plan) error {
		descendants, err := NewNetworkStore(members, p.MaxDepth).GetDescendants(memberID)
		if err != nil {
			return err
		}
		filtered := make([]Descendant, 0, len(descendants))
		for _, d := range descendants {
			result.LevelCounts[d.Level]++
			if q.Level > 0 && d.Level != q.Level {
				continue
			}
			filtered = append(filtered, d)
		}
		result.Total = len(filtered)
		start, end := pageBounds(len(filtered), q.Page, q.PageSize)
		for _, d := range filtered[start:end] {
			result.Items = append(result.Items, DownlineItem{
				ID:              d.Member.ID,
				SponsorID:       d.Member.SponsorID,
				Username:        d.Member.Username,
				FullName:        d.Member.FullName,
				Level:           d.Level,
				JoinedAt:        d.Member.JoinedAt,
				Active:          d.Member.Active,
				Rank:            d.Member.Rank,
				DirectReferrals: d.Member.DirectReferrals,
				TotalEarnings:   d.Member.TotalEarnings,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func pageBounds(total, page, pageSize int) (int, int) {
	if pageSize <= 0 {
		return 0, total
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

// LevelEarnings 单层收益汇总
type LevelEarnings struct {
	Level  int          `json:"level"`
	Source string       `json:"source"`
	Count  int64        `json:"count"`
	Amount models.Money `json:"amount"`
}

// EarningsBreakdown 收益按层级与类型汇总
type EarningsBreakdown struct {
	MemberID uint                    `json:"member_id"`
	ByLevel  []LevelEarnings         `json:"by_level"`
	BySource map[string]models.Money `json:"by_source"`
	Total    models.Money            `json:"total"`
}

// EarningsBreakdown 成员收益构成
func (s *QueryService) EarningsBreakdown(ctx context.Context, memberID uint) (*EarningsBreakdown, error) {
	return cached(ctx, s, fmt.Sprintf("earnings:%d", memberID), func() (*EarningsBreakdown, error) {
		result := &EarningsBreakdown{MemberID: memberID, ByLevel: []LevelEarnings{}, BySource: map[string]models.Money{}}
		err := s.snapshot(ctx, func(members repository.MemberRepository, ledgerRepo repository.LedgerRepository, _ plan.Plan) error {
			member, err := members.GetByID(memberID)
			if err != nil {
				return err
			}
			if member == nil {
				return ErrUnknownMember
			}
			rows, err := ledgerRepo.EarningsBreakdown(memberID)
			if err != nil {
				return err
			}
			total := decimal.Zero
			for _, row := range rows {
				result.ByLevel = append(result.ByLevel, LevelEarnings{
					Level:  row.Level,
					Source: row.Source,
					Count:  row.Count,
					Amount: row.Amount,
				})
				result.BySource[row.Source] = result.BySource[row.Source].Plus(row.Amount)
				total = total.Add(row.Amount.Decimal)
			}
			result.Total = models.NewMoneyFromDecimal(total)
			return nil
		})
		return result, err
	})
}

// History 成员流水（倒序，至多 limit 条）
func (s *QueryService) History(ctx context.Context, memberID uint, filter LedgerFilter, limit int) ([]models.LedgerEntry, error) {
	ledger := NewLedger(s.ledgerRepo.WithTx(s.db.WithContext(ctx)), s.now)
	return Collect(ledger.Query(ctx, memberID, filter), limit)
}

// LeaderboardItem 排行榜项
type LeaderboardItem struct {
	Position      int          `json:"position"`
	MemberID      uint         `json:"member_id"`
	Username      string       `json:"username"`
	FullName      string       `json:"full_name"`
	Rank          string       `json:"rank"`
	TotalEarnings models.Money `json:"total_earnings"`
}

// Leaderboard 累计收益前 N 名，收益相同按ID升序
func (s *QueryService) Leaderboard(ctx context.Context, limit int) ([]LeaderboardItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return cached(ctx, s, fmt.Sprintf("leaderboard:%d", limit), func() ([]LeaderboardItem, error) {
		rows, err := s.memberRepo.WithTx(s.db.WithContext(ctx)).TopByEarnings(limit)
		if err != nil {
			return nil, storageError(err)
		}
		items := make([]LeaderboardItem, 0, len(rows))
		for i, m := range rows {
			items = append(items, LeaderboardItem{
				Position:      i + 1,
				MemberID:      m.ID,
				Username:      m.Username,
				FullName:      m.FullName,
				Rank:          m.Rank,
				TotalEarnings: m.TotalEarnings,
			})
		}
		return items, nil
	})
}

// StatusTotals 单个提现状态汇总
type StatusTotals struct {
	Count     int64        `json:"count"`
	Amount    models.Money `json:"amount"`
	Fee       models.Money `json:"fee"`
	NetAmount models.Money `json:"net_amount"`
}

// WithdrawalSummary 提现汇总
type WithdrawalSummary struct {
	ByStatus  map[string]StatusTotals `json:"by_status"`
	Pending   models.Money            `json:"pending"`
	Completed models.Money            `json:"completed"`
	Requested int64                   `json:"requested"`
}

// WithdrawalSummary 成员提现汇总，memberID 为 0 时为全站
func (s *QueryService) WithdrawalSummary(ctx context.Context, memberID uint) (*WithdrawalSummary, error) {
	rows, err := s.ledgerRepo.WithTx(s.db.WithContext(ctx)).WithdrawalStats(memberID)
	if err != nil {
		return nil, storageError(err)
	}
	return summarizeWithdrawals(rows), nil
}

func summarizeWithdrawals(rows []repository.WithdrawalStatusRow) *WithdrawalSummary {
	summary := &WithdrawalSummary{ByStatus: map[string]StatusTotals{}}
	for _, status := range WithdrawalStatuses() {
		summary.ByStatus[status] = StatusTotals{}
	}
	for _, row := range rows {
		summary.ByStatus[row.Status] = StatusTotals{Count: row.Count, Amount: row.Amount, Fee: row.Fee, NetAmount: row.NetAmount}
		summary.Requested += row.Count
		switch row.Status {
		case constants.WithdrawalStatusPending, constants.WithdrawalStatusProcessing:
			summary.Pending = summary.Pending.Plus(row.Amount)
		case constants.WithdrawalStatusCompleted:
			summary.Completed = summary.Completed.Plus(row.Amount)
		}
	}
	return summary
}

// ListWithdrawals 提现列表
func (s *QueryService) ListWithdrawals(ctx context.Context, filter repository.WithdrawalListFilter) ([]models.LedgerEntry, int64, error) {
	rows, total, err := s.ledgerRepo.WithTx(s.db.WithContext(ctx)).ListWithdrawals(filter)
	if err != nil {
		return nil, 0, storageError(err)
	}
	return rows, total, nil
}

// WithdrawalTransitions 提现状态流转记录
func (s *QueryService) WithdrawalTransitions(ctx context.Context, entryID uint) ([]models.WithdrawalTransition, error) {
	rows, err := s.ledgerRepo.WithTx(s.db.WithContext(ctx)).ListTransitions(entryID)
	if err != nil {
		return nil, storageError(err)
	}
	return rows, nil
}

// ListMembers 后台成员列表
func (s *QueryService) ListMembers(ctx context.Context, filter repository.MemberListFilter) ([]models.Member, int64, error) {
	rows, total, err := s.memberRepo.WithTx(s.db.WithContext(ctx)).List(filter)
	if err != nil {
		return nil, 0, storageError(err)
	}
	return rows, total, nil
}
