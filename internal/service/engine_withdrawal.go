package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/metrics"
	"github.com/tiernet/internal/models"
)

// RequestWithdrawalInput 提现申请输入
type RequestWithdrawalInput struct {
	MemberID uint
	Amount   decimal.Decimal
	Method   string
	Details  models.JSON
}

// activeWithdrawalStatuses 占用每日额度的提现状态
func activeWithdrawalStatuses() []string {
	return []string{
		constants.WithdrawalStatusPending,
		constants.WithdrawalStatusProcessing,
		constants.WithdrawalStatusCompleted,
	}
}

// RequestWithdrawal 申请提现：全部校验通过后才写入，申请金额立即从余额中冻结
func (e *Engine) RequestWithdrawal(ctx context.Context, input RequestWithdrawalInput) (*models.LedgerEntry, error) {
	method := strings.ToLower(strings.TrimSpace(input.Method))
	if !input.Amount.IsPositive() || !input.Amount.Equal(input.Amount.Round(2)) {
		return nil, fieldError("amount", ErrInvalidAmount, "must be positive with at most 2 decimal places")
	}

	var created *models.LedgerEntry
	err := e.write(ctx, "request_withdrawal", func(u *unit) error {
		policy := u.plan.Withdrawal
		fee, ok := policy.FeeFor(method)
		if !ok {
			return fieldError("method", ErrInvalidMethod, method)
		}
		if input.Amount.LessThan(policy.Minimum) {
			return fieldError("amount", ErrBelowMinimum, "minimum is "+policy.Minimum.StringFixed(2))
		}
		if !input.Amount.GreaterThan(fee) {
			return fieldError("amount", ErrInvalidAmount, "must exceed the withdrawal fee")
		}
		details, err := normalizeWithdrawalDetails(e.validate, method, input.Details)
		if err != nil {
			return err
		}

		member, err := u.members.GetByIDForUpdate(input.MemberID)
		if err != nil {
			return err
		}
		if member == nil {
			return ErrUnknownMember
		}
		if !member.Active {
			return ErrMemberInactive
		}
		if input.Amount.GreaterThan(member.Balance.Decimal) {
			return fieldError("amount", ErrInsufficientBalance, "balance is "+member.Balance.String())
		}

		now := e.now()
		dayStart, dayEnd := e.dayWindow(now)
		usedToday, err := u.ledgerRepo.SumWithdrawals(member.ID, activeWithdrawalStatuses(), dayStart, dayEnd)
		if err != nil {
			return err
		}
		if usedToday.Decimal.Add(input.Amount).GreaterThan(policy.DailyLimit) {
			remaining := decimal.Max(policy.DailyLimit.Sub(usedToday.Decimal), decimal.Zero)
			return fieldError("amount", ErrAboveDailyLimit, "remaining today is "+remaining.StringFixed(2))
		}

		entry := &models.LedgerEntry{
			OccurredAt: now,
			Kind:       constants.LedgerKindWithdrawal,
			Amount:     models.NewMoneyFromDecimal(input.Amount),
			MemberID:   member.ID,
			Status:     constants.WithdrawalStatusPending,
			Method:     method,
			Fee:        models.NewMoneyFromDecimal(fee),
			NetAmount:  models.NewMoneyFromDecimal(input.Amount.Sub(fee)),
			Meta:       details,
		}
		if _, err := u.ledger.Append(entry); err != nil {
			return err
		}
		if err := u.ledgerRepo.CreateTransition(&models.WithdrawalTransition{
			EntryID:   entry.ID,
			From:      "",
			To:        constants.WithdrawalStatusPending,
			Actor:     memberActor(member.ID),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := u.members.UpdateFields(member.ID, map[string]interface{}{
			"balance": member.Balance.Minus(entry.Amount),
		}); err != nil {
			return err
		}
		created = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.WithdrawalTransitionsTotal.WithLabelValues(constants.WithdrawalStatusPending).Inc()
	logger.Infow("engine_withdrawal_requested", "entry_id", created.ID, "member_id", created.MemberID, "amount", created.Amount.String(), "method", created.Method)
	return created, nil
}

// CancelWithdrawal 成员取消自己仍处于 pending 的提现，金额退回余额
func (e *Engine) CancelWithdrawal(ctx context.Context, memberID, entryID uint) (*models.LedgerEntry, error) {
	return e.transition(ctx, "cancel_withdrawal", entryID, constants.WithdrawalStatusCancelled, memberActor(memberID), "", func(entry *models.LedgerEntry) error {
		if entry.MemberID != memberID {
			return ErrWithdrawalForbidden
		}
		return nil
	})
}

// StartWithdrawalProcessing 后台审核通过，进入出款处理并投递出款任务
func (e *Engine) StartWithdrawalProcessing(ctx context.Context, entryID uint, actor string) (*models.LedgerEntry, error) {
	entry, err := e.transition(ctx, "process_withdrawal", entryID, constants.WithdrawalStatusProcessing, actor, "", nil)
	if err != nil {
		return nil, err
	}
	if e.payouts != nil && e.payouts.Enabled() {
		if err := e.payouts.EnqueueWithdrawalPayout(entry.ID); err != nil {
			// 投递失败不回滚状态，可由后台重新投递
			logger.Warnw("engine_enqueue_payout_failed", "entry_id", entry.ID, "error", err)
		}
	}
	return entry, nil
}

// PayoutReferenceKey 出款通道流水号在提现 meta 中的键
const PayoutReferenceKey = "payout_reference"

// RecordPayoutReference 记录出款通道流水号，仅 processing 状态可写；
// 已写入时保持原值，重试据此跳过再次出款
func (e *Engine) RecordPayoutReference(ctx context.Context, entryID uint, reference string) (*models.LedgerEntry, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fieldError("reference", ErrInvalidInput, "is required")
	}
	var updated *models.LedgerEntry
	err := e.write(ctx, "record_payout_reference", func(u *unit) error {
		entry, err := u.ledger.GetWithdrawalForUpdate(entryID)
		if err != nil {
			return err
		}
		if entry.Status != constants.WithdrawalStatusProcessing {
			return fmt.Errorf("%w: payout reference requires processing, got %s", ErrInvalidTransition, entry.Status)
		}
		if existing := entry.Meta.String(PayoutReferenceKey); existing != "" {
			updated = entry
			return nil
		}
		meta := models.JSON{}
		for k, v := range entry.Meta {
			meta[k] = v
		}
		meta[PayoutReferenceKey] = reference
		applied, err := u.ledgerRepo.UpdateWithdrawalStatus(entry.ID, entry.Status, entry.Status, meta, e.now())
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, entry.Status)
		}
		entry.Meta = meta
		updated = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CompleteWithdrawal 出款成功，计入累计提现
func (e *Engine) CompleteWithdrawal(ctx context.Context, entryID uint, actor, reference string) (*models.LedgerEntry, error) {
	return e.transition(ctx, "complete_withdrawal", entryID, constants.WithdrawalStatusCompleted, actor, reference, nil)
}

// FailWithdrawal 出款失败或审核拒绝，金额退回余额
func (e *Engine) FailWithdrawal(ctx context.Context, entryID uint, actor, reason string) (*models.LedgerEntry, error) {
	return e.transition(ctx, "fail_withdrawal", entryID, constants.WithdrawalStatusFailed, actor, reason, nil)
}

// transition 推进提现状态并同步成员余额
//
// pending/processing 期间金额已从余额冻结：completed 计入累计提现，
// failed/cancelled 退回余额。
func (e *Engine) transition(ctx context.Context, command string, entryID uint, to, actor, reason string, check func(entry *models.LedgerEntry) error) (*models.LedgerEntry, error) {
	var updated *models.LedgerEntry
	err := e.write(ctx, command, func(u *unit) error {
		entry, err := u.ledger.GetWithdrawalForUpdate(entryID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(entry); err != nil {
				return err
			}
		}
		entry, err = u.ledger.TransitionWithdrawal(entry.ID, to, actor, reason)
		if err != nil {
			return err
		}

		member, err := u.members.GetByIDForUpdate(entry.MemberID)
		if err != nil {
			return err
		}
		if member == nil {
			return ErrUnknownMember
		}
		switch to {
		case constants.WithdrawalStatusCompleted:
			err = u.members.UpdateFields(member.ID, map[string]interface{}{
				"total_withdrawn": member.TotalWithdrawn.Plus(entry.Amount),
			})
		case constants.WithdrawalStatusFailed, constants.WithdrawalStatusCancelled:
			err = u.members.UpdateFields(member.ID, map[string]interface{}{
				"balance": member.Balance.Plus(entry.Amount),
			})
		}
		if err != nil {
			return err
		}
		updated = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.WithdrawalTransitionsTotal.WithLabelValues(to).Inc()
	logger.Infow("engine_withdrawal_transitioned", "entry_id", entryID, "status", to, "actor", actor)
	return updated, nil
}

func memberActor(memberID uint) string {
	return "member:" + strconv.FormatUint(uint64(memberID), 10)
}
