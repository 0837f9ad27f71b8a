package queue

import (
	"encoding/json"
	"fmt"

	"github.com/tiernet/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskWithdrawalPayout 提现出款任务
	TaskWithdrawalPayout = constants.TaskWithdrawalPayout
)

// WithdrawalPayoutPayload 提现出款任务载荷
type WithdrawalPayoutPayload struct {
	EntryID uint `json:"entry_id"`
}

// NewWithdrawalPayoutTask 创建提现出款任务
func NewWithdrawalPayoutTask(payload WithdrawalPayoutPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWithdrawalPayout, body), nil
}

// ParseWithdrawalPayoutPayload 解析提现出款任务载荷
func ParseWithdrawalPayoutPayload(body []byte) (WithdrawalPayoutPayload, error) {
	var payload WithdrawalPayoutPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, err
	}
	if payload.EntryID == 0 {
		return payload, fmt.Errorf("withdrawal payout payload missing entry_id")
	}
	return payload, nil
}

func payoutTaskID(entryID uint) string {
	return fmt.Sprintf("payout:%d", entryID)
}
