package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/tiernet/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MemberRepository 成员与推荐关系数据访问接口
type MemberRepository interface {
	GetByID(id uint) (*models.Member, error)
	GetByIDForUpdate(id uint) (*models.Member, error)
	GetByIDs(ids []uint) ([]models.Member, error)
	GetByUsername(username string) (*models.Member, error)
	ExistsByUsernameOrEmail(username, email string, excludeID uint) (bool, error)
	Create(member *models.Member) error
	UpdateFields(id uint, updates map[string]interface{}) error
	ListChildren(sponsorIDs []uint) ([]models.Member, error)
	CountChildren(sponsorID uint) (int64, error)
	List(filter MemberListFilter) ([]models.Member, int64, error)
	ListAfterID(afterID uint, limit int) ([]models.Member, error)
	TopByEarnings(limit int) ([]models.Member, error)
	Totals(dayStart, dayEnd time.Time) (MemberTotalsRow, error)
	WithTx(tx *gorm.DB) *GormMemberRepository
	Transaction(fn func(tx *gorm.DB) error) error
}

// MemberTotalsRow 成员汇总统计
type MemberTotalsRow struct {
	TotalMembers   int64
	ActiveMembers  int64
	JoinedToday    int64
	TotalEarnings  models.Money
	TotalWithdrawn models.Money
	TotalBalance   models.Money
}

// GormMemberRepository GORM 成员仓储实现
type GormMemberRepository struct {
	db *gorm.DB
}

// NewMemberRepository 创建成员仓储
func NewMemberRepository(db *gorm.DB) *GormMemberRepository {
	return &GormMemberRepository{db: db}
}

// WithTx 绑定事务
func (r *GormMemberRepository) WithTx(tx *gorm.DB) *GormMemberRepository {
	if tx == nil {
		return r
	}
	return &GormMemberRepository{db: tx}
}

// Transaction 执行事务
func (r *GormMemberRepository) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

// GetByID 按ID获取成员
func (r *GormMemberRepository) GetByID(id uint) (*models.Member, error) {
	if id == 0 {
		return nil, nil
	}
	var member models.Member
	if err := r.db.First(&member, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

// GetByIDForUpdate 加锁获取成员（余额读改写前使用）
func (r *GormMemberRepository) GetByIDForUpdate(id uint) (*models.Member, error) {
	if id == 0 {
		return nil, nil
	}
	var member models.Member
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&member, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

// GetByIDs 批量获取成员
func (r *GormMemberRepository) GetByIDs(ids []uint) ([]models.Member, error) {
	if len(ids) == 0 {
		return []models.Member{}, nil
	}
	var members []models.Member
	if err := r.db.Where("id IN ?", ids).Order("id asc").Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// GetByUsername 按用户名获取成员
func (r *GormMemberRepository) GetByUsername(username string) (*models.Member, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil, nil
	}
	var member models.Member
	if err := r.db.Where("username = ?", username).First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

// ExistsByUsernameOrEmail 检查用户名或邮箱是否已被占用
func (r *GormMemberRepository) ExistsByUsernameOrEmail(username, email string, excludeID uint) (bool, error) {
	query := r.db.Model(&models.Member{}).Where("username = ? OR email = ?", username, email)
	if excludeID > 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create 创建成员
func (r *GormMemberRepository) Create(member *models.Member) error {
	return r.db.Create(member).Error
}

// UpdateFields 按字段更新成员
func (r *GormMemberRepository) UpdateFields(id uint, updates map[string]interface{}) error {
	if id == 0 || len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.Member{}).Where("id = ?", id).Updates(updates).Error
}

// ListChildren 获取一批成员的直推成员
func (r *GormMemberRepository) ListChildren(sponsorIDs []uint) ([]models.Member, error) {
	if len(sponsorIDs) == 0 {
		return []models.Member{}, nil
	}
	var members []models.Member
	if err := r.db.Where("sponsor_id IN ?", sponsorIDs).Order("id asc").Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// CountChildren 统计直推人数
func (r *GormMemberRepository) CountChildren(sponsorID uint) (int64, error) {
	var count int64
	if err := r.db.Model(&models.Member{}).Where("sponsor_id = ?", sponsorID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// List 成员列表（后台）
func (r *GormMemberRepository) List(filter MemberListFilter) ([]models.Member, int64, error) {
	query := r.db.Model(&models.Member{})
	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		condition, argCount := buildLikeCondition(r.db, []string{"username", "email", "full_name"})
		query = query.Where(condition, repeatLikeArgs("%"+keyword+"%", argCount)...)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if rank := strings.TrimSpace(filter.Rank); rank != "" {
		query = query.Where("rank = ?", rank)
	}
	if filter.SponsorID != nil {
		query = query.Where("sponsor_id = ?", *filter.SponsorID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var members []models.Member
	if err := query.Order("id desc").Find(&members).Error; err != nil {
		return nil, 0, err
	}
	return members, total, nil
}

// ListAfterID 按ID升序分批扫描成员
func (r *GormMemberRepository) ListAfterID(afterID uint, limit int) ([]models.Member, error) {
	if limit <= 0 {
		limit = 500
	}
	var members []models.Member
	if err := r.db.Where("id > ?", afterID).Order("id asc").Limit(limit).Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// TopByEarnings 按累计收益降序取前 N 名，收益相同按ID升序
func (r *GormMemberRepository) TopByEarnings(limit int) ([]models.Member, error) {
	if limit <= 0 {
		return []models.Member{}, nil
	}
	var members []models.Member
	if err := r.db.Order("total_earnings desc").Order("id asc").Limit(limit).Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// Totals 成员汇总统计
func (r *GormMemberRepository) Totals(dayStart, dayEnd time.Time) (MemberTotalsRow, error) {
	row := MemberTotalsRow{}
	if err := r.db.Model(&models.Member{}).Count(&row.TotalMembers).Error; err != nil {
		return row, err
	}
	if err := r.db.Model(&models.Member{}).Where("active = ?", true).Count(&row.ActiveMembers).Error; err != nil {
		return row, err
	}
	if err := r.db.Model(&models.Member{}).
		Where("joined_at >= ? AND joined_at < ?", dayStart, dayEnd).
		Count(&row.JoinedToday).Error; err != nil {
		return row, err
	}
	sums := struct {
		TotalEarnings  models.Money
		TotalWithdrawn models.Money
		TotalBalance   models.Money
	}{}
	if err := r.db.Model(&models.Member{}).
		Select("COALESCE(SUM(total_earnings), 0) AS total_earnings, COALESCE(SUM(total_withdrawn), 0) AS total_withdrawn, COALESCE(SUM(balance), 0) AS total_balance").
		Scan(&sums).Error; err != nil {
		return row, err
	}
	row.TotalEarnings = sums.TotalEarnings
	row.TotalWithdrawn = sums.TotalWithdrawn
	row.TotalBalance = sums.TotalBalance
	return row, nil
}
