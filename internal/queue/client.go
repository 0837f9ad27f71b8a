package queue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tiernet/internal/config"
	"github.com/tiernet/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// DefaultQueue 默认队列名称
	DefaultQueue = constants.QueueDefault
	// PayoutQueue 出款队列名称
	PayoutQueue = constants.QueuePayout

	defaultPayoutMaxRetry = 5
)

// Client 队列客户端封装
type Client struct {
	client         *asynq.Client
	enabled        bool
	payoutMaxRetry int
}

// NewClient 创建队列客户端；payoutMaxRetry<=0 时使用默认重试次数
func NewClient(cfg *config.QueueConfig, payoutMaxRetry int) (*Client, error) {
	if payoutMaxRetry <= 0 {
		payoutMaxRetry = defaultPayoutMaxRetry
	}
	if cfg == nil || !cfg.Enabled {
		return &Client{enabled: false, payoutMaxRetry: payoutMaxRetry}, nil
	}
	opt := buildRedisOpt(cfg)
	client := asynq.NewClient(opt)
	return &Client{
		client:         client,
		enabled:        true,
		payoutMaxRetry: payoutMaxRetry,
	}, nil
}

// Enabled 判断是否启用
func (c *Client) Enabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueWithdrawalPayout 推送提现出款任务，同一笔提现只入队一次
func (c *Client) EnqueueWithdrawalPayout(entryID uint) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewWithdrawalPayoutTask(WithdrawalPayoutPayload{EntryID: entryID})
	if err != nil {
		return err
	}
	options := []asynq.Option{
		asynq.Queue(PayoutQueue),
		asynq.TaskID(payoutTaskID(entryID)),
		asynq.MaxRetry(c.payoutMaxRetry),
	}
	_, err = c.client.Enqueue(task, options...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// BuildServerConfig 生成队列服务配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	opt := buildRedisOpt(cfg)
	concurrency := 10
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	queues := map[string]int{DefaultQueue: 1, PayoutQueue: 2}
	if cfg != nil && len(cfg.Queues) > 0 {
		queues = cfg.Queues
	}
	return opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
	}
}

func buildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	password := ""
	db := 0
	if cfg != nil {
		if strings.TrimSpace(cfg.Host) != "" {
			host = strings.TrimSpace(cfg.Host)
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		password = cfg.Password
		db = cfg.DB
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	}
}
