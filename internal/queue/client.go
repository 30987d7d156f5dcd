package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/partnerledger/internal/config"
	"github.com/partnerledger/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// DefaultQueue 默认队列名称
	DefaultQueue = constants.QueueDefault
	// CriticalQueue 实时事件队列名称
	CriticalQueue = constants.QueueCritical

	defaultMaxRetry = 8
	syncTaskTimeout = 30 * time.Minute
)

// Client 队列客户端封装
type Client struct {
	client       *asynq.Client
	enabled      bool
	defaultQueue string
	maxRetry     int
}

// NewClient 创建队列客户端
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{enabled: false, defaultQueue: DefaultQueue}, nil
	}
	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetry
	}
	return &Client{
		client:       asynq.NewClient(BuildRedisOpt(cfg)),
		enabled:      true,
		defaultQueue: DefaultQueue,
		maxRetry:     maxRetry,
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

// EnqueueCommerceEvent 推送实时事件处理任务，同一事件只入队一次
func (c *Client) EnqueueCommerceEvent(eventID string) error {
	if !c.Enabled() {
		return nil
	}
	eventID = strings.TrimSpace(eventID)
	task, err := NewCommerceEventTask(CommerceEventPayload{EventID: eventID})
	if err != nil {
		return err
	}
	_, err = c.client.Enqueue(task,
		asynq.Queue(CriticalQueue),
		asynq.MaxRetry(c.maxRetry),
		asynq.TaskID(TaskCommerceEvent+":"+eventID),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// EnqueueIncrementalSync 推送增量同步任务
func (c *Client) EnqueueIncrementalSync(triggeredBy string) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewSyncIncrementalTask(SyncIncrementalPayload{TriggeredBy: triggeredBy})
	if err != nil {
		return err
	}
	_, err = c.client.Enqueue(task, SyncTaskOptions()...)
	return err
}

// EnqueuePayoutAggregate 推送结算汇总任务
func (c *Client) EnqueuePayoutAggregate(month string) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewPayoutAggregateTask(PayoutAggregatePayload{Month: strings.TrimSpace(month)})
	if err != nil {
		return err
	}
	_, err = c.client.Enqueue(task, asynq.Queue(c.defaultQueue), asynq.MaxRetry(3))
	return err
}

// SyncTaskOptions 增量同步任务选项：同一时刻只保留一个排队中的同步
func SyncTaskOptions() []asynq.Option {
	return []asynq.Option{
		asynq.Queue(DefaultQueue),
		asynq.MaxRetry(1),
		asynq.Timeout(syncTaskTimeout),
		asynq.Unique(syncTaskTimeout),
	}
}

// BuildServerConfig 生成队列服务配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	opt := BuildRedisOpt(cfg)
	concurrency := 10
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	queues := map[string]int{CriticalQueue: 5, DefaultQueue: 1}
	if cfg != nil && len(cfg.Queues) > 0 {
		queues = cfg.Queues
	}
	return opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
	}
}

// BuildRedisOpt 生成队列 Redis 连接参数
func BuildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
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
