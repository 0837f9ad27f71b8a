// Package plan 定义报酬计划：佣金比例表、等级阶梯与提现规则，均为纯函数。
package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tiernet/internal/constants"
)

// ErrInvalidPlan 报酬计划配置无效
var ErrInvalidPlan = errors.New("invalid compensation plan")

// DefaultMaxDepth 推荐链最大深度
const DefaultMaxDepth = 64

// WithdrawalPolicy 提现规则
type WithdrawalPolicy struct {
	Minimum    decimal.Decimal            `json:"minimum"`
	DailyLimit decimal.Decimal            `json:"daily_limit"`
	Fees       map[string]decimal.Decimal `json:"fees"`
}

// FeeFor 获取提现方式手续费，未开放的方式返回 false
func (w WithdrawalPolicy) FeeFor(method string) (decimal.Decimal, bool) {
	fee, ok := w.Fees[strings.ToLower(strings.TrimSpace(method))]
	return fee, ok
}

// Plan 报酬计划
type Plan struct {
	Commission     CommissionTable  `json:"commission"`
	Ranks          RankLadder       `json:"ranks"`
	InactivePolicy string           `json:"inactive_policy"`
	MaxDepth       int              `json:"max_depth"`
	JoiningFee     decimal.Decimal  `json:"joining_fee"`
	ReferralBonus  decimal.Decimal  `json:"referral_bonus"`
	Withdrawal     WithdrawalPolicy `json:"withdrawal"`
}

// Default 默认计划：五层佣金 10/5/3/2/1，六级阶梯
func Default() Plan {
	return Plan{
		Commission: CommissionTable{
			{Level: 1, Rate: decimal.RequireFromString("0.10")},
			{Level: 2, Rate: decimal.RequireFromString("0.05")},
			{Level: 3, Rate: decimal.RequireFromString("0.03")},
			{Level: 4, Rate: decimal.RequireFromString("0.02")},
			{Level: 5, Rate: decimal.RequireFromString("0.01")},
		},
		Ranks: RankLadder{
			{Rank: constants.RankBronze, MinDirectReferrals: 0},
			{Rank: constants.RankSilver, MinDirectReferrals: 10},
			{Rank: constants.RankGold, MinDirectReferrals: 25},
			{Rank: constants.RankPlatinum, MinDirectReferrals: 50},
			{Rank: constants.RankDiamond, MinDirectReferrals: 100},
			{Rank: constants.RankMaster, MinDirectReferrals: 200},
		},
		InactivePolicy: constants.InactivePolicyForfeit,
		MaxDepth:       DefaultMaxDepth,
		JoiningFee:     decimal.RequireFromString("25.00"),
		ReferralBonus:  decimal.Zero,
		Withdrawal: WithdrawalPolicy{
			Minimum:    decimal.RequireFromString("50.00"),
			DailyLimit: decimal.RequireFromString("1000.00"),
			Fees: map[string]decimal.Decimal{
				constants.WithdrawMethodBank:   decimal.RequireFromString("2.50"),
				constants.WithdrawMethodPaypal: decimal.RequireFromString("1.50"),
				constants.WithdrawMethodCrypto: decimal.RequireFromString("5.00"),
			},
		},
	}
}

// Normalize 归一化计划（策略名小写、缺省深度、手续费键名）
func (p Plan) Normalize() Plan {
	p.InactivePolicy = strings.ToLower(strings.TrimSpace(p.InactivePolicy))
	if p.InactivePolicy == "" {
		p.InactivePolicy = constants.InactivePolicyForfeit
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = DefaultMaxDepth
	}
	fees := make(map[string]decimal.Decimal, len(p.Withdrawal.Fees))
	for method, fee := range p.Withdrawal.Fees {
		fees[strings.ToLower(strings.TrimSpace(method))] = fee.Round(2)
	}
	p.Withdrawal.Fees = fees
	p.JoiningFee = p.JoiningFee.Round(2)
	p.ReferralBonus = p.ReferralBonus.Round(2)
	p.Withdrawal.Minimum = p.Withdrawal.Minimum.Round(2)
	p.Withdrawal.DailyLimit = p.Withdrawal.DailyLimit.Round(2)
	return p
}

// Validate 校验计划
func (p Plan) Validate() error {
	if err := p.Commission.Validate(); err != nil {
		return err
	}
	if err := p.Ranks.Validate(); err != nil {
		return err
	}
	switch p.InactivePolicy {
	case constants.InactivePolicyForfeit, constants.InactivePolicyCompress:
	default:
		return fmt.Errorf("%w: unknown inactive policy %q", ErrInvalidPlan, p.InactivePolicy)
	}
	if p.MaxDepth < p.Commission.MaxLevel() {
		return fmt.Errorf("%w: max depth must cover all commission levels", ErrInvalidPlan)
	}
	if p.JoiningFee.IsNegative() || p.ReferralBonus.IsNegative() {
		return fmt.Errorf("%w: fees must not be negative", ErrInvalidPlan)
	}
	if p.Withdrawal.Minimum.IsNegative() || !p.Withdrawal.DailyLimit.IsPositive() {
		return fmt.Errorf("%w: withdrawal limits are invalid", ErrInvalidPlan)
	}
	if p.Withdrawal.Minimum.GreaterThan(p.Withdrawal.DailyLimit) {
		return fmt.Errorf("%w: withdrawal minimum exceeds daily limit", ErrInvalidPlan)
	}
	if len(p.Withdrawal.Fees) == 0 {
		return fmt.Errorf("%w: no withdrawal method enabled", ErrInvalidPlan)
	}
	for method, fee := range p.Withdrawal.Fees {
		if fee.IsNegative() {
			return fmt.Errorf("%w: fee for %s is negative", ErrInvalidPlan, method)
		}
	}
	return nil
}

// AncestorDepth 计佣需要向上遍历的深度
func (p Plan) AncestorDepth() int {
	if p.InactivePolicy == constants.InactivePolicyCompress {
		return p.MaxDepth
	}
	return p.Commission.MaxLevel()
}
