package repository

import "time"

// MemberListFilter 查询成员列表的过滤条件
type MemberListFilter struct {
	Page      int
	PageSize  int
	Keyword   string
	Rank      string
	Active    *bool
	SponsorID *uint
}

// LedgerPageFilter 流水游标分页条件
type LedgerPageFilter struct {
	MemberID   uint
	Kinds      []string
	Source     string
	From       time.Time
	To         time.Time
	BeforeTime time.Time
	BeforeID   uint
	Limit      int
}

// WithdrawalListFilter 查询提现列表的过滤条件
type WithdrawalListFilter struct {
	Page      int
	PageSize  int
	MemberID  uint
	Statuses  []string
	Method    string
	Reference string // 出款凭证号（完成时写入 meta.completed_reason）
}
