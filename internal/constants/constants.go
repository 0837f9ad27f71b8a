package constants

// 流水类型常量
const (
	LedgerKindJoin             = "join"
	LedgerKindSale             = "sale"
	LedgerKindCommissionCredit = "commission_credit"
	LedgerKindWithdrawal       = "withdrawal"
	LedgerKindSponsorChange    = "sponsor_change"
	LedgerKindPlanChange       = "plan_change" // 系统级，member_id 为 0
)

// 佣金来源常量
const (
	CreditSourceSale = "sale"
	CreditSourceJoin = "join"
)

// 提现状态常量
const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusFailed     = "failed"
	WithdrawalStatusCancelled  = "cancelled"
)

// 提现方式常量
const (
	WithdrawMethodBank   = "bank"
	WithdrawMethodPaypal = "paypal"
	WithdrawMethodCrypto = "crypto"
)

// 等级常量
const (
	RankBronze   = "Bronze"
	RankSilver   = "Silver"
	RankGold     = "Gold"
	RankPlatinum = "Platinum"
	RankDiamond  = "Diamond"
	RankMaster   = "Master"
)

// 上级失效策略
const (
	InactivePolicyForfeit  = "forfeit"
	InactivePolicyCompress = "compress"
)

// 会话角色
const (
	RoleMember  = "member"
	RoleAdmin   = "admin"
	RoleFinance = "finance"
	RoleAuditor = "auditor"
)

// 队列与任务常量
const (
	QueueDefault         = "default"
	QueuePayout          = "payout"
	TaskWithdrawalPayout = "withdrawal:payout"
)

// 设置键常量
const (
	SettingKeyPlanConfig = "mlm_plan"
)

// 操作者标识
const (
	ActorSystem = "system"
	ActorWorker = "worker"
)
