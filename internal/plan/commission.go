package plan

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tiernet/internal/constants"
)

// LevelRate 单层佣金比例（小数，0.10 表示 10%）
type LevelRate struct {
	Level int             `json:"level"`
	Rate  decimal.Decimal `json:"rate"`
}

// CommissionTable 按层级排列的佣金比例表
type CommissionTable []LevelRate

// MaxLevel 最大计佣层级
func (t CommissionTable) MaxLevel() int {
	return len(t)
}

// RateAt 获取指定层级比例
func (t CommissionTable) RateAt(level int) (decimal.Decimal, bool) {
	if level < 1 || level > len(t) {
		return decimal.Zero, false
	}
	return t[level-1].Rate, true
}

// TotalRate 所有层级比例之和
func (t CommissionTable) TotalRate() decimal.Decimal {
	total := decimal.Zero
	for _, lr := range t {
		total = total.Add(lr.Rate)
	}
	return total
}

// Validate 校验比例表：层级从 1 连续递增，比例在 (0,1) 内严格递减，总和不超过 1
func (t CommissionTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: commission table is empty", ErrInvalidPlan)
	}
	one := decimal.NewFromInt(1)
	for i, lr := range t {
		if lr.Level != i+1 {
			return fmt.Errorf("%w: commission level %d out of order", ErrInvalidPlan, lr.Level)
		}
		if !lr.Rate.IsPositive() || lr.Rate.GreaterThanOrEqual(one) {
			return fmt.Errorf("%w: commission rate at level %d must be in (0,1)", ErrInvalidPlan, lr.Level)
		}
		if i > 0 && !lr.Rate.LessThan(t[i-1].Rate) {
			return fmt.Errorf("%w: commission rate at level %d must be below level %d", ErrInvalidPlan, lr.Level, i)
		}
	}
	if t.TotalRate().GreaterThan(one) {
		return fmt.Errorf("%w: commission rates exceed 100%%", ErrInvalidPlan)
	}
	return nil
}

// Credit 计算单笔佣金，保留两位小数，半数向上取整
func Credit(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

// Ancestor 计佣链上的一个上级（距离交易成员由近及远）
type Ancestor struct {
	MemberID uint
	Active   bool
}

// Share 一条应入账的佣金
type Share struct {
	MemberID uint            `json:"member_id"`
	Level    int             `json:"level"`
	Rate     decimal.Decimal `json:"rate"`
	Amount   decimal.Decimal `json:"amount"`
}

// Distribute 将一笔交易金额按比例表分配到上级链
//
// forfeit 策略下，未激活上级所在层级的份额作废；compress 策略下，
// 未激活上级被跳过，该层级由下一个激活上级承接。金额为 0 的份额不输出。
func Distribute(amount decimal.Decimal, chain []Ancestor, table CommissionTable, policy string) []Share {
	if !amount.IsPositive() || len(table) == 0 {
		return nil
	}
	shares := make([]Share, 0, len(table))
	level := 0
	for depth, ancestor := range chain {
		switch policy {
		case constants.InactivePolicyCompress:
			if !ancestor.Active {
				continue
			}
			level++
		default:
			level = depth + 1
		}
		if level > table.MaxLevel() {
			break
		}
		if !ancestor.Active {
			continue
		}
		rate, _ := table.RateAt(level)
		credit := Credit(amount, rate)
		if !credit.IsPositive() {
			continue
		}
		shares = append(shares, Share{
			MemberID: ancestor.MemberID,
			Level:    level,
			Rate:     rate,
			Amount:   credit,
		})
	}
	return capShares(amount, shares)
}

// capShares 半数向上取整可能让合计超过 amount × Σrate；超出部分按分扣回，
// 每次从进位最多的份额扣减，相同时取更深层级
func capShares(amount decimal.Decimal, shares []Share) []Share {
	rates := decimal.Zero
	for _, s := range shares {
		rates = rates.Add(s.Rate)
	}
	excess := SumShares(shares).Sub(amount.Mul(rates))
	if !excess.IsPositive() {
		return shares
	}
	excess = excess.RoundCeil(2)
	cent := decimal.New(1, -2)
	for excess.IsPositive() {
		idx := -1
		var most decimal.Decimal
		for i, s := range shares {
			if !s.Amount.IsPositive() {
				continue
			}
			surplus := s.Amount.Sub(amount.Mul(s.Rate))
			if idx < 0 || surplus.GreaterThanOrEqual(most) {
				idx, most = i, surplus
			}
		}
		if idx < 0 {
			break
		}
		shares[idx].Amount = shares[idx].Amount.Sub(cent)
		excess = excess.Sub(cent)
	}
	kept := shares[:0]
	for _, s := range shares {
		if s.Amount.IsPositive() {
			kept = append(kept, s)
		}
	}
	return kept
}

// SumShares 份额合计
func SumShares(shares []Share) decimal.Decimal {
	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s.Amount)
	}
	return total
}
