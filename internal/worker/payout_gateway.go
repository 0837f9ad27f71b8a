package worker

import (
	"context"
	"fmt"

	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/models"
)

// PayoutGateway 出款通道
//
// 通道应以 entry.ID 作为幂等键：流水号写库前进程崩溃时，同一提现可能被再次提交。
type PayoutGateway interface {
	// Pay 执行出款，返回通道流水号（不可为空）
	Pay(ctx context.Context, entry *models.LedgerEntry) (string, error)
}

// LogGateway 仅记录出款指令的默认通道
type LogGateway struct{}

// Pay 记录出款指令并视为成功
func (LogGateway) Pay(_ context.Context, entry *models.LedgerEntry) (string, error) {
	if entry == nil {
		return "", fmt.Errorf("payout entry is nil")
	}
	reference := fmt.Sprintf("log-%d", entry.ID)
	logger.Infow("worker_payout_logged",
		"entry_id", entry.ID,
		"member_id", entry.MemberID,
		"method", entry.Method,
		"net_amount", entry.NetAmount.String(),
		"reference", reference,
	)
	return reference, nil
}
