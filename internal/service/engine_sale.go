package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/metrics"
	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/plan"
)

// RecordSaleInput 销售录入
type RecordSaleInput struct {
	MemberID   uint
	Amount     decimal.Decimal
	Reference  string
	OccurredAt time.Time
}

// SaleResult 销售及其产生的佣金
type SaleResult struct {
	Sale    models.LedgerEntry   `json:"sale"`
	Credits []models.LedgerEntry `json:"credits"`
}

// RecordSale 记录一笔销售，并在同一事务内沿推荐链发放佣金
func (e *Engine) RecordSale(ctx context.Context, input RecordSaleInput) (*SaleResult, error) {
	if !input.Amount.IsPositive() {
		return nil, fieldError("amount", ErrInvalidAmount, "must be positive")
	}
	if !input.Amount.Equal(input.Amount.Round(2)) {
		return nil, fieldError("amount", ErrInvalidAmount, "at most 2 decimal places")
	}
	if input.MemberID == 0 {
		return nil, fieldError("member_id", ErrUnknownMember, "")
	}

	result := &SaleResult{}
	err := e.write(ctx, "record_sale", func(u *unit) error {
		if _, err := u.network.GetMember(input.MemberID); err != nil {
			return err
		}
		sale := &models.LedgerEntry{
			OccurredAt: input.OccurredAt.UTC(),
			Kind:       constants.LedgerKindSale,
			Amount:     models.NewMoneyFromDecimal(input.Amount),
			MemberID:   input.MemberID,
		}
		if ref := strings.TrimSpace(input.Reference); ref != "" {
			sale.Meta = models.JSON{"reference": ref}
		}
		if _, err := u.ledger.Append(sale); err != nil {
			return err
		}
		credits, err := u.commission.ApplySale(sale, u.plan)
		if err != nil {
			return err
		}
		result.Sale = *sale
		result.Credits = credits
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, credit := range result.Credits {
		metrics.ObserveCommission(strconv.Itoa(derefInt(credit.Level)), credit.Amount.Decimal)
	}
	logger.Infow("engine_sale_recorded",
		"sale_id", result.Sale.ID,
		"member_id", input.MemberID,
		"amount", result.Sale.Amount.String(),
		"credits", len(result.Credits),
		"credited", models.NewMoneyFromDecimal(sumEntries(result.Credits)).String(),
	)
	return result, nil
}

// PreviewSale 预估一笔销售的佣金分配（不落库）
func (e *Engine) PreviewSale(ctx context.Context, memberID uint, amount decimal.Decimal) ([]plan.Share, error) {
	if !amount.IsPositive() {
		return nil, fieldError("amount", ErrInvalidAmount, "must be positive")
	}
	p, err := e.Plan()
	if err != nil {
		return nil, err
	}
	network := NewNetworkStore(e.memberRepo.WithTx(e.db.WithContext(ctx)), p.MaxDepth)
	ancestors, err := network.GetAncestors(memberID, p.AncestorDepth())
	if err != nil {
		return nil, storageError(err)
	}
	chain := make([]plan.Ancestor, 0, len(ancestors))
	for _, a := range ancestors {
		chain = append(chain, plan.Ancestor{MemberID: a.ID, Active: a.Active})
	}
	return plan.Distribute(amount, chain, p.Commission, p.InactivePolicy), nil
}

func sumEntries(entries []models.LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(entry.Amount.Decimal)
	}
	return total
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
