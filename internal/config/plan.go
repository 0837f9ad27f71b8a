package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/tiernet/internal/plan"
)

// PlanConfig 报酬计划初始值，数据库中已保存的计划优先
type PlanConfig struct {
	CommissionRates    []string          `mapstructure:"commission_rates"`
	RankNames          []string          `mapstructure:"rank_names"`
	RankMinReferrals   []int             `mapstructure:"rank_min_referrals"`
	InactivePolicy     string            `mapstructure:"inactive_policy"`
	MaxDepth           int               `mapstructure:"max_depth"`
	JoiningFee         string            `mapstructure:"joining_fee"`
	ReferralBonus      string            `mapstructure:"referral_bonus"`
	WithdrawMinimum    string            `mapstructure:"withdraw_minimum"`
	WithdrawDailyLimit string            `mapstructure:"withdraw_daily_limit"`
	WithdrawFees       map[string]string `mapstructure:"withdraw_fees"`
}

func setPlanDefaults(v *viper.Viper) {
	def := plan.Default()
	rates := make([]string, 0, len(def.Commission))
	for _, level := range def.Commission {
		rates = append(rates, level.Rate.String())
	}
	names := make([]string, 0, len(def.Ranks))
	mins := make([]int, 0, len(def.Ranks))
	for _, threshold := range def.Ranks {
		names = append(names, threshold.Rank)
		mins = append(mins, threshold.MinDirectReferrals)
	}
	fees := make(map[string]string, len(def.Withdrawal.Fees))
	for method, fee := range def.Withdrawal.Fees {
		fees[method] = fee.StringFixed(2)
	}

	v.SetDefault("plan.commission_rates", rates)
	v.SetDefault("plan.rank_names", names)
	v.SetDefault("plan.rank_min_referrals", mins)
	v.SetDefault("plan.inactive_policy", def.InactivePolicy)
	v.SetDefault("plan.max_depth", def.MaxDepth)
	v.SetDefault("plan.joining_fee", def.JoiningFee.StringFixed(2))
	v.SetDefault("plan.referral_bonus", def.ReferralBonus.StringFixed(2))
	v.SetDefault("plan.withdraw_minimum", def.Withdrawal.Minimum.StringFixed(2))
	v.SetDefault("plan.withdraw_daily_limit", def.Withdrawal.DailyLimit.StringFixed(2))
	v.SetDefault("plan.withdraw_fees", fees)
}

// ToPlan 转换为报酬计划并校验
func (c PlanConfig) ToPlan() (plan.Plan, error) {
	p := plan.Default()

	if len(c.CommissionRates) > 0 {
		table := make(plan.CommissionTable, 0, len(c.CommissionRates))
		for i, raw := range c.CommissionRates {
			rate, err := parseAmount("commission_rates", raw)
			if err != nil {
				return p, err
			}
			table = append(table, plan.LevelRate{Level: i + 1, Rate: rate})
		}
		p.Commission = table
	}

	if len(c.RankNames) > 0 {
		if len(c.RankNames) != len(c.RankMinReferrals) {
			return p, fmt.Errorf("%w: rank_names and rank_min_referrals differ in length", plan.ErrInvalidPlan)
		}
		ladder := make(plan.RankLadder, 0, len(c.RankNames))
		for i, name := range c.RankNames {
			ladder = append(ladder, plan.Threshold{Rank: strings.TrimSpace(name), MinDirectReferrals: c.RankMinReferrals[i]})
		}
		p.Ranks = ladder
	}

	if c.InactivePolicy != "" {
		p.InactivePolicy = c.InactivePolicy
	}
	if c.MaxDepth > 0 {
		p.MaxDepth = c.MaxDepth
	}

	amounts := []struct {
		key    string
		raw    string
		target *decimal.Decimal
	}{
		{"joining_fee", c.JoiningFee, &p.JoiningFee},
		{"referral_bonus", c.ReferralBonus, &p.ReferralBonus},
		{"withdraw_minimum", c.WithdrawMinimum, &p.Withdrawal.Minimum},
		{"withdraw_daily_limit", c.WithdrawDailyLimit, &p.Withdrawal.DailyLimit},
	}
	for _, item := range amounts {
		if strings.TrimSpace(item.raw) == "" {
			continue
		}
		value, err := parseAmount(item.key, item.raw)
		if err != nil {
			return p, err
		}
		*item.target = value
	}

	if len(c.WithdrawFees) > 0 {
		fees := make(map[string]decimal.Decimal, len(c.WithdrawFees))
		for method, raw := range c.WithdrawFees {
			fee, err := parseAmount("withdraw_fees."+method, raw)
			if err != nil {
				return p, err
			}
			fees[method] = fee
		}
		p.Withdrawal.Fees = fees
	}

	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func parseAmount(key, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: plan.%s %q is not a decimal", plan.ErrInvalidPlan, key, raw)
	}
	return value, nil
}
