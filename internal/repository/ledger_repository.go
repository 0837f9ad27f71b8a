package repository

import (
	"errors"
	"time"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository 资金流水数据访问接口（只追加，提现状态除外）
type LedgerRepository interface {
	Create(entry *models.LedgerEntry) error
	GetByID(id uint) (*models.LedgerEntry, error)
	GetByIDForUpdate(id uint) (*models.LedgerEntry, error)
	UpdateWithdrawalStatus(id uint, from, to string, meta models.JSON, now time.Time) (bool, error)
	CreateTransition(transition *models.WithdrawalTransition) error
	ListTransitions(entryID uint) ([]models.WithdrawalTransition, error)
	Page(filter LedgerPageFilter) ([]models.LedgerEntry, error)
	ListAfterID(afterID uint, limit int) ([]models.LedgerEntry, error)
	FirstByKind(kind string) (*models.LedgerEntry, error)
	ListBySource(sourceEntryID uint) ([]models.LedgerEntry, error)
	ListWithdrawals(filter WithdrawalListFilter) ([]models.LedgerEntry, int64, error)
	SumWithdrawals(memberID uint, statuses []string, start, end time.Time) (models.Money, error)
	SumByKind(kind string, start, end time.Time) (models.Money, error)
	EarningsBreakdown(memberID uint) ([]EarningsBreakdownRow, error)
	WithdrawalStats(memberID uint) ([]WithdrawalStatusRow, error)
	WithTx(tx *gorm.DB) *GormLedgerRepository
	Transaction(fn func(tx *gorm.DB) error) error
}

// EarningsBreakdownRow 收益按来源与层级汇总
type EarningsBreakdownRow struct {
	Source string
	Level  int
	Count  int64
	Amount models.Money
}

// WithdrawalStatusRow 提现按状态汇总
type WithdrawalStatusRow struct {
	Status    string
	Count     int64
	Amount    models.Money
	Fee       models.Money
	NetAmount models.Money
}

// GormLedgerRepository GORM 流水仓储实现
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository 创建流水仓储
func NewLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

// WithTx 绑定事务
func (r *GormLedgerRepository) WithTx(tx *gorm.DB) *GormLedgerRepository {
	if tx == nil {
		return r
	}
	return &GormLedgerRepository{db: tx}
}

// Transaction 执行事务
func (r *GormLedgerRepository) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

// Create 追加流水
func (r *GormLedgerRepository) Create(entry *models.LedgerEntry) error {
	return r.db.Create(entry).Error
}

// GetByID 按ID获取流水
func (r *GormLedgerRepository) GetByID(id uint) (*models.LedgerEntry, error) {
	if id == 0 {
		return nil, nil
	}
	var entry models.LedgerEntry
	if err := r.db.First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// GetByIDForUpdate 加锁获取流水
func (r *GormLedgerRepository) GetByIDForUpdate(id uint) (*models.LedgerEntry, error) {
	if id == 0 {
		return nil, nil
	}
	var entry models.LedgerEntry
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// UpdateWithdrawalStatus 条件更新提现状态，仅当当前状态为 from 时生效
func (r *GormLedgerRepository) UpdateWithdrawalStatus(id uint, from, to string, meta models.JSON, now time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	if meta != nil {
		updates["meta"] = meta
	}
	result := r.db.Model(&models.LedgerEntry{}).
		Where("id = ? AND kind = ? AND status = ?", id, constants.LedgerKindWithdrawal, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CreateTransition 写入提现状态流转记录
func (r *GormLedgerRepository) CreateTransition(transition *models.WithdrawalTransition) error {
	return r.db.Create(transition).Error
}

// ListTransitions 获取提现状态流转记录
func (r *GormLedgerRepository) ListTransitions(entryID uint) ([]models.WithdrawalTransition, error) {
	var rows []models.WithdrawalTransition
	if err := r.db.Where("entry_id = ?", entryID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Page 按 (occurred_at, id) 倒序的游标分页
func (r *GormLedgerRepository) Page(filter LedgerPageFilter) ([]models.LedgerEntry, error) {
	query := r.db.Model(&models.LedgerEntry{}).Where("member_id = ?", filter.MemberID)
	if len(filter.Kinds) > 0 {
		query = query.Where("kind IN ?", filter.Kinds)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if !filter.From.IsZero() {
		query = query.Where("occurred_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("occurred_at < ?", filter.To)
	}
	if filter.BeforeID > 0 {
		query = query.Where("(occurred_at < ?) OR (occurred_at = ? AND id < ?)", filter.BeforeTime, filter.BeforeTime, filter.BeforeID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var entries []models.LedgerEntry
	if err := query.Order("occurred_at desc").Order("id desc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListAfterID 按ID升序分批扫描全部流水
func (r *GormLedgerRepository) ListAfterID(afterID uint, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	var entries []models.LedgerEntry
	if err := r.db.Where("id > ?", afterID).Order("id asc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// FirstByKind 获取某类型最早的一条流水
func (r *GormLedgerRepository) FirstByKind(kind string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.Where("kind = ?", kind).Order("id asc").First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListBySource 获取由某条流水触发的佣金
func (r *GormLedgerRepository) ListBySource(sourceEntryID uint) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.Where("source_entry_id = ?", sourceEntryID).Order("id asc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListWithdrawals 提现列表
func (r *GormLedgerRepository) ListWithdrawals(filter WithdrawalListFilter) ([]models.LedgerEntry, int64, error) {
	query := r.db.Model(&models.LedgerEntry{}).Where("kind = ?", constants.LedgerKindWithdrawal)
	if filter.MemberID > 0 {
		query = query.Where("member_id = ?", filter.MemberID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.Method != "" {
		query = query.Where("method = ?", filter.Method)
	}
	if filter.Reference != "" {
		query = query.Where(jsonTextExpr(r.db, "meta", "completed_reason")+" = ?", filter.Reference)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var entries []models.LedgerEntry
	if err := query.Order("id desc").Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// SumWithdrawals 汇总时间段内指定状态的提现金额
func (r *GormLedgerRepository) SumWithdrawals(memberID uint, statuses []string, start, end time.Time) (models.Money, error) {
	query := r.db.Model(&models.LedgerEntry{}).
		Where("kind = ?", constants.LedgerKindWithdrawal).
		Where("occurred_at >= ? AND occurred_at < ?", start, end)
	if memberID > 0 {
		query = query.Where("member_id = ?", memberID)
	}
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var row struct {
		Total models.Money
	}
	if err := query.Select("COALESCE(SUM(amount), 0) AS total").Scan(&row).Error; err != nil {
		return models.ZeroMoney(), err
	}
	return row.Total, nil
}

// SumByKind 汇总时间段内某类流水金额
func (r *GormLedgerRepository) SumByKind(kind string, start, end time.Time) (models.Money, error) {
	query := r.db.Model(&models.LedgerEntry{}).Where("kind = ?", kind)
	if !start.IsZero() {
		query = query.Where("occurred_at >= ?", start)
	}
	if !end.IsZero() {
		query = query.Where("occurred_at < ?", end)
	}
	var row struct {
		Total models.Money
	}
	if err := query.Select("COALESCE(SUM(amount), 0) AS total").Scan(&row).Error; err != nil {
		return models.ZeroMoney(), err
	}
	return row.Total, nil
}

// EarningsBreakdown 成员收益按来源与层级汇总
func (r *GormLedgerRepository) EarningsBreakdown(memberID uint) ([]EarningsBreakdownRow, error) {
	var rows []EarningsBreakdownRow
	err := r.db.Model(&models.LedgerEntry{}).
		Select("source, COALESCE(level, 0) AS level, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("member_id = ? AND kind = ?", memberID, constants.LedgerKindCommissionCredit).
		Group("source, level").
		Order("source asc").Order("level asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// WithdrawalStats 提现按状态汇总，memberID 为 0 时统计全部
func (r *GormLedgerRepository) WithdrawalStats(memberID uint) ([]WithdrawalStatusRow, error) {
	query := r.db.Model(&models.LedgerEntry{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount, COALESCE(SUM(fee), 0) AS fee, COALESCE(SUM(net_amount), 0) AS net_amount").
		Where("kind = ?", constants.LedgerKindWithdrawal)
	if memberID > 0 {
		query = query.Where("member_id = ?", memberID)
	}
	var rows []WithdrawalStatusRow
	if err := query.Group("status").Order("status asc").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
