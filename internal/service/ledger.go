package service

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/repository"
)

const defaultLedgerPageSize = 100

// Ledger 只追加的资金流水
type Ledger struct {
	repo repository.LedgerRepository
	now  func() time.Time
}

// LedgerFilter 流水查询条件，时间区间左闭右开
type LedgerFilter struct {
	From     time.Time
	To       time.Time
	Kinds    []string
	Source   string
	PageSize int
}

// NewLedger 创建流水
func NewLedger(repo repository.LedgerRepository, now func() time.Time) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{repo: repo, now: now}
}

var ledgerKinds = map[string]struct{}{
	constants.LedgerKindJoin:             {},
	constants.LedgerKindSale:             {},
	constants.LedgerKindCommissionCredit: {},
	constants.LedgerKindWithdrawal:       {},
	constants.LedgerKindSponsorChange:    {},
	constants.LedgerKindPlanChange:       {},
}

// Append 追加一条流水并返回ID，不改动任何余额
func (l *Ledger) Append(entry *models.LedgerEntry) (uint, error) {
	if entry == nil {
		return 0, fmt.Errorf("%w: nil ledger entry", ErrInvalidInput)
	}
	if _, ok := ledgerKinds[entry.Kind]; !ok {
		return 0, fmt.Errorf("%w: unknown ledger kind %q", ErrInvalidInput, entry.Kind)
	}
	if entry.ID != 0 {
		return 0, fmt.Errorf("%w: ledger entries are immutable", ErrInvalidInput)
	}
	if entry.Amount.IsNegative() {
		return 0, fieldError("amount", ErrInvalidAmount, "must not be negative")
	}
	if entry.Kind == constants.LedgerKindWithdrawal && entry.Status != constants.WithdrawalStatusPending {
		return 0, fmt.Errorf("%w: withdrawals start as pending", ErrInvalidTransition)
	}
	if entry.Kind != constants.LedgerKindWithdrawal {
		entry.Status = ""
	}
	now := l.now()
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = now
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if err := l.repo.Create(entry); err != nil {
		return 0, err
	}
	return entry.ID, nil
}

// Query 按时间倒序惰性返回成员流水；序列有限，可重复遍历
func (l *Ledger) Query(ctx context.Context, memberID uint, filter LedgerFilter) iter.Seq2[models.LedgerEntry, error] {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultLedgerPageSize
	}
	return func(yield func(models.LedgerEntry, error) bool) {
		cursor := repository.LedgerPageFilter{
			MemberID: memberID,
			Kinds:    filter.Kinds,
			Source:   filter.Source,
			From:     filter.From,
			To:       filter.To,
			Limit:    pageSize,
		}
		for {
			if err := ctx.Err(); err != nil {
				yield(models.LedgerEntry{}, err)
				return
			}
			page, err := l.repo.Page(cursor)
			if err != nil {
				yield(models.LedgerEntry{}, storageError(err))
				return
			}
			for _, entry := range page {
				if !yield(entry, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last := page[len(page)-1]
			cursor.BeforeTime = last.OccurredAt
			cursor.BeforeID = last.ID
		}
	}
}

// Collect 读取至多 limit 条流水（limit<=0 表示全部）
func Collect(seq iter.Seq2[models.LedgerEntry, error], limit int) ([]models.LedgerEntry, error) {
	entries := make([]models.LedgerEntry, 0)
	for entry, err := range seq {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

var withdrawalTransitions = map[string][]string{
	constants.WithdrawalStatusPending: {
		constants.WithdrawalStatusProcessing,
		constants.WithdrawalStatusFailed,
		constants.WithdrawalStatusCancelled,
	},
	constants.WithdrawalStatusProcessing: {
		constants.WithdrawalStatusCompleted,
		constants.WithdrawalStatusFailed,
	},
}

// CanTransitionWithdrawal 提现状态是否允许从 from 流转到 to
func CanTransitionWithdrawal(from, to string) bool {
	for _, allowed := range withdrawalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// WithdrawalStatuses 全部提现状态
func WithdrawalStatuses() []string {
	return []string{
		constants.WithdrawalStatusPending,
		constants.WithdrawalStatusProcessing,
		constants.WithdrawalStatusCompleted,
		constants.WithdrawalStatusFailed,
		constants.WithdrawalStatusCancelled,
	}
}

// GetWithdrawalForUpdate 加锁获取提现流水
func (l *Ledger) GetWithdrawalForUpdate(entryID uint) (*models.LedgerEntry, error) {
	entry, err := l.repo.GetByIDForUpdate(entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.Kind != constants.LedgerKindWithdrawal {
		return nil, ErrWithdrawalNotFound
	}
	return entry, nil
}

// TransitionWithdrawal 推进提现状态并写入审计记录，返回更新后的流水
func (l *Ledger) TransitionWithdrawal(entryID uint, to, actor, reason string) (*models.LedgerEntry, error) {
	entry, err := l.GetWithdrawalForUpdate(entryID)
	if err != nil {
		return nil, err
	}
	from := entry.Status
	if !CanTransitionWithdrawal(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	now := l.now()
	var meta models.JSON
	if reason != "" {
		meta = models.JSON{}
		for k, v := range entry.Meta {
			meta[k] = v
		}
		meta[to+"_reason"] = reason
	}
	applied, err := l.repo.UpdateWithdrawalStatus(entry.ID, from, to, meta, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, from)
	}
	if err := l.repo.CreateTransition(&models.WithdrawalTransition{
		EntryID:   entry.ID,
		From:      from,
		To:        to,
		Actor:     actor,
		Reason:    reason,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	entry.Status = to
	entry.UpdatedAt = now
	if meta != nil {
		entry.Meta = meta
	}
	return entry, nil
}
