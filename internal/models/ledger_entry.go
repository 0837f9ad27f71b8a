package models

import (
	"time"
)

// LedgerEntry 资金流水（只追加）
type LedgerEntry struct {
	ID              uint      `gorm:"primarykey" json:"id"`                                           // 主键
	OccurredAt      time.Time `gorm:"not null;index:idx_ledger_member_time,priority:2" json:"occurred_at"` // 发生时间
	Kind            string    `gorm:"type:varchar(32);not null;index" json:"kind"`                    // 流水类型
	Amount          Money     `gorm:"type:decimal(20,2);not null;default:0" json:"amount"`            // 金额
	MemberID        uint      `gorm:"not null;index:idx_ledger_member_time,priority:1" json:"member_id"` // 所属成员
	RelatedMemberID *uint     `gorm:"index" json:"related_member_id,omitempty"`                       // 关联成员（如产生佣金的下级）
	Level           *int      `json:"level,omitempty"`                                                // 佣金层级
	SourceEntryID   *uint     `gorm:"index" json:"source_entry_id,omitempty"`                         // 触发流水ID
	Source          string    `gorm:"type:varchar(20)" json:"source,omitempty"`                       // 佣金来源（sale/join）
	Status          string    `gorm:"type:varchar(20);index" json:"status,omitempty"`                 // 提现状态
	Method          string    `gorm:"type:varchar(20)" json:"method,omitempty"`                       // 提现方式
	Fee             Money     `gorm:"type:decimal(20,2);not null;default:0" json:"fee"`               // 提现手续费
	NetAmount       Money     `gorm:"type:decimal(20,2);not null;default:0" json:"net_amount"`        // 实际到账金额
	Meta            JSON      `gorm:"type:json" json:"meta,omitempty"`                                // 附加信息
	CreatedAt       time.Time `gorm:"index" json:"created_at"`                                        // 创建时间
	UpdatedAt       time.Time `json:"updated_at"`                                                     // 更新时间（仅提现状态流转）
}

// TableName 指定表名
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// WithdrawalTransition 提现状态流转审计记录
type WithdrawalTransition struct {
	ID        uint      `gorm:"primarykey" json:"id"`                          // 主键
	EntryID   uint      `gorm:"not null;index" json:"entry_id"`                // 提现流水ID
	From      string    `gorm:"type:varchar(20);not null" json:"from"`         // 原状态
	To        string    `gorm:"type:varchar(20);not null" json:"to"`           // 新状态
	Actor     string    `gorm:"type:varchar(64)" json:"actor"`                 // 操作者
	Reason    string    `gorm:"type:varchar(255)" json:"reason"`               // 原因
	CreatedAt time.Time `gorm:"index" json:"created_at"`                       // 创建时间
}

// TableName 指定表名
func (WithdrawalTransition) TableName() string {
	return "withdrawal_transitions"
}
