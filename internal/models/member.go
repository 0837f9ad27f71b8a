package models

import (
	"time"
)

// Member 网络成员（推荐树节点）
type Member struct {
	ID              uint      `gorm:"primarykey" json:"id"`                                         // 主键
	SponsorID       *uint     `gorm:"index" json:"sponsor_id,omitempty"`                            // 推荐人ID（根节点为空）
	Username        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`        // 用户名（同时作为推荐码）
	FullName        string    `gorm:"type:varchar(128)" json:"full_name"`                           // 姓名
	Email           string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`          // 邮箱
	Phone           string    `gorm:"type:varchar(32)" json:"phone"`                                // 手机号
	PayoutDetails   JSON      `gorm:"type:json" json:"payout_details"`                              // 收款信息（银行卡/PayPal/钱包地址）
	JoinedAt        time.Time `gorm:"not null;index" json:"joined_at"`                              // 加入时间
	Active          bool      `gorm:"not null;default:true;index" json:"active"`                    // 是否激活
	Rank            string    `gorm:"type:varchar(20);not null;index" json:"rank"`                  // 当前等级
	Balance         Money     `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`         // 可用余额
	TotalEarnings   Money     `gorm:"type:decimal(20,2);not null;default:0;index" json:"total_earnings"` // 累计收益
	TotalWithdrawn  Money     `gorm:"type:decimal(20,2);not null;default:0" json:"total_withdrawn"` // 累计已提现
	DirectReferrals int       `gorm:"not null;default:0" json:"direct_referrals"`                   // 直推人数
	CreatedAt       time.Time `gorm:"index" json:"created_at"`                                      // 创建时间
	UpdatedAt       time.Time `gorm:"index" json:"updated_at"`                                      // 更新时间

	Sponsor *Member `gorm:"foreignKey:SponsorID" json:"sponsor,omitempty"` // 推荐人
}

// TableName 指定表名
func (Member) TableName() string {
	return "members"
}

// IsRoot 是否为根节点
func (m *Member) IsRoot() bool {
	return m == nil || m.SponsorID == nil
}
