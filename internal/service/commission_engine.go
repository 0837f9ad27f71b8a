package service

import (
	"github.com/shopspring/decimal"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/plan"
	"github.com/tiernet/internal/repository"
)

// CommissionEngine 将交易拆分为逐级佣金并入账
//
// 调用方负责在同一事务内执行，任一步失败整体回滚。
type CommissionEngine struct {
	network *NetworkStore
	ledger  *Ledger
	members repository.MemberRepository
}

// NewCommissionEngine 创建佣金引擎
func NewCommissionEngine(network *NetworkStore, ledger *Ledger, members repository.MemberRepository) *CommissionEngine {
	return &CommissionEngine{network: network, ledger: ledger, members: members}
}

// ApplySale 按比例表沿推荐链向上分配一笔销售的佣金
func (e *CommissionEngine) ApplySale(sale *models.LedgerEntry, p plan.Plan) ([]models.LedgerEntry, error) {
	ancestors, err := e.network.GetAncestors(sale.MemberID, p.AncestorDepth())
	if err != nil {
		return nil, err
	}
	chain := make([]plan.Ancestor, 0, len(ancestors))
	for _, ancestor := range ancestors {
		chain = append(chain, plan.Ancestor{MemberID: ancestor.ID, Active: ancestor.Active})
	}
	shares := plan.Distribute(sale.Amount.Decimal, chain, p.Commission, p.InactivePolicy)

	credits := make([]models.LedgerEntry, 0, len(shares))
	for _, share := range shares {
		level := share.Level
		entry, err := e.credit(share.MemberID, share.Amount, &level, sale, constants.CreditSourceSale, models.JSON{
			"rate": share.Rate.String(),
		})
		if err != nil {
			return nil, err
		}
		credits = append(credits, *entry)
	}
	return credits, nil
}

// ApplyReferralBonus 新成员加入时给直接推荐人发放固定奖励
func (e *CommissionEngine) ApplyReferralBonus(join *models.LedgerEntry, sponsor *models.Member, p plan.Plan) (*models.LedgerEntry, error) {
	if sponsor == nil || !sponsor.Active || !p.ReferralBonus.IsPositive() {
		return nil, nil
	}
	level := 1
	return e.credit(sponsor.ID, p.ReferralBonus, &level, join, constants.CreditSourceJoin, nil)
}

func (e *CommissionEngine) credit(memberID uint, amount decimal.Decimal, level *int, source *models.LedgerEntry, sourceKind string, meta models.JSON) (*models.LedgerEntry, error) {
	relatedID := source.MemberID
	sourceID := source.ID
	entry := &models.LedgerEntry{
		OccurredAt:      source.OccurredAt,
		Kind:            constants.LedgerKindCommissionCredit,
		Amount:          models.NewMoneyFromDecimal(amount),
		MemberID:        memberID,
		RelatedMemberID: &relatedID,
		Level:           level,
		SourceEntryID:   &sourceID,
		Source:          sourceKind,
		Meta:            meta,
	}
	if _, err := e.ledger.Append(entry); err != nil {
		return nil, err
	}

	member, err := e.members.GetByIDForUpdate(memberID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrUnknownMember
	}
	if err := e.members.UpdateFields(member.ID, map[string]interface{}{
		"balance":        member.Balance.Plus(entry.Amount),
		"total_earnings": member.TotalEarnings.Plus(entry.Amount),
	}); err != nil {
		return nil, err
	}
	return entry, nil
}
