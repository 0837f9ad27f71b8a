package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/queue"
	"github.com/tiernet/internal/repository"
	"github.com/tiernet/internal/service"

	"github.com/hibiken/asynq"
)

// PayoutSettler 出款结果落账
type PayoutSettler interface {
	RecordPayoutReference(ctx context.Context, entryID uint, reference string) (*models.LedgerEntry, error)
	CompleteWithdrawal(ctx context.Context, entryID uint, actor, reference string) (*models.LedgerEntry, error)
	FailWithdrawal(ctx context.Context, entryID uint, actor, reason string) (*models.LedgerEntry, error)
}

// Consumer 异步任务消费者
type Consumer struct {
	Engine     PayoutSettler
	LedgerRepo repository.LedgerRepository
	Gateway    PayoutGateway
}

// NewConsumer 创建消费者，gateway 为空时使用 LogGateway
func NewConsumer(engine PayoutSettler, ledgerRepo repository.LedgerRepository, gateway PayoutGateway) *Consumer {
	if gateway == nil {
		gateway = LogGateway{}
	}
	return &Consumer{
		Engine:     engine,
		LedgerRepo: ledgerRepo,
		Gateway:    gateway,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskWithdrawalPayout, c.handleWithdrawalPayout)
}

func (c *Consumer) handleWithdrawalPayout(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_payout_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParseWithdrawalPayoutPayload(task.Payload())
	if err != nil {
		logger.Warnw("worker_payout_payload_invalid", "error", err)
		return err
	}
	return c.processPayout(ctx, payload.EntryID)
}

// processPayout 出款并记录结果；出款通道报错时返回错误交由队列重试
//
// 通道流水号先于完成落账保存，重试时已有流水号则不再调用通道。
func (c *Consumer) processPayout(ctx context.Context, entryID uint) error {
	if c.Engine == nil || c.LedgerRepo == nil {
		logger.Warnw("worker_payout_skip_not_configured", "entry_id", entryID)
		return nil
	}
	entry, err := c.LedgerRepo.GetByID(entryID)
	if err != nil {
		logger.Warnw("worker_payout_fetch_entry_failed", "entry_id", entryID, "error", err)
		return err
	}
	if !isPayable(entry) {
		logger.Debugw("worker_payout_skip_not_processing", "entry_id", entryID)
		return nil
	}

	reference := entry.Meta.String(service.PayoutReferenceKey)
	if reference != "" {
		logger.Infow("worker_payout_already_paid", "entry_id", entryID, "reference", reference)
	} else {
		var payErr error
		reference, payErr = c.Gateway.Pay(ctx, entry)
		if payErr != nil {
			return c.payFailed(ctx, entryID, payErr)
		}
		if strings.TrimSpace(reference) == "" {
			reference = fmt.Sprintf("entry-%d", entryID)
		}
		if _, err := c.Engine.RecordPayoutReference(ctx, entryID, reference); err != nil {
			return c.settleError(entryID, "record_reference", err)
		}
	}

	if _, err := c.Engine.CompleteWithdrawal(ctx, entryID, constants.ActorWorker, reference); err != nil {
		return c.settleError(entryID, "complete", err)
	}
	logger.Infow("worker_payout_completed", "entry_id", entryID, "reference", reference)
	return nil
}

// payFailed 未到最后一次重试时返回错误，否则将提现置为失败
func (c *Consumer) payFailed(ctx context.Context, entryID uint, payErr error) error {
	retry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retry < maxRetry {
		logger.Warnw("worker_payout_gateway_failed", "entry_id", entryID, "retry", retry, "error", payErr)
		return payErr
	}
	if _, err := c.Engine.FailWithdrawal(ctx, entryID, constants.ActorWorker, payErr.Error()); err != nil {
		return c.settleError(entryID, "fail", err)
	}
	logger.Warnw("worker_payout_failed", "entry_id", entryID, "error", payErr)
	return nil
}

// settleError 状态已被后台推进时不再重试
func (c *Consumer) settleError(entryID uint, action string, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrWithdrawalNotFound):
		logger.Debugw("worker_payout_settle_skip", "entry_id", entryID, "action", action, "error", err)
		return nil
	default:
		logger.Warnw("worker_payout_settle_failed", "entry_id", entryID, "action", action, "error", err)
		return err
	}
}

func isPayable(entry *models.LedgerEntry) bool {
	return entry != nil &&
		entry.Kind == constants.LedgerKindWithdrawal &&
		entry.Status == constants.WithdrawalStatusProcessing
}
