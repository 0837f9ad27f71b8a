// Package metrics 暴露 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiernet_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPResponseSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tiernet_http_response_seconds",
			Help:    "Histogram of HTTP response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiernet_engine_commands_total",
			Help: "Engine commands by name and outcome",
		},
		[]string{"command", "outcome"},
	)

	CommissionCreditsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiernet_commission_credits_total",
			Help: "Commission credit entries by level",
		},
		[]string{"level"},
	)

	CommissionAmountTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tiernet_commission_amount_total",
			Help: "Sum of commission credited",
		},
	)

	WithdrawalTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiernet_withdrawal_transitions_total",
			Help: "Withdrawal status transitions by target status",
		},
		[]string{"status"},
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tiernet_rate_limited_total",
			Help: "Requests rejected by rate limit rules",
		},
		[]string{"rule"},
	)

	AuditDriftMembers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tiernet_audit_drift_members",
			Help: "Members whose stored state differs from ledger replay in the last audit",
		},
	)
)

// ObserveCommission 记录一笔佣金
func ObserveCommission(level string, amount decimal.Decimal) {
	CommissionCreditsTotal.WithLabelValues(level).Inc()
	CommissionAmountTotal.Add(amount.InexactFloat64())
}

// ObserveCommand 记录一次命令执行结果
func ObserveCommand(command string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CommandsTotal.WithLabelValues(command, outcome).Inc()
}
