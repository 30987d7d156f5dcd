package worker

import (
	"context"
	"errors"
	"time"

	"github.com/partnerledger/internal/config"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/queue"

	"github.com/hibiken/asynq"
)

const defaultPayoutInterval = time.Hour

// Service 异步队列服务
type Service struct {
	name   string
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:   "worker",
		server: server,
		mux:    mux,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// PayoutLoop 周期性汇总当前与上一个结算月份
type PayoutLoop struct {
	payouts  payoutAggregator
	interval time.Duration
	now      func() time.Time
}

// NewPayoutLoop 创建结算汇总循环
func NewPayoutLoop(consumer *Consumer, intervalMinutes int) (*PayoutLoop, error) {
	if consumer == nil || consumer.payouts == nil {
		return nil, errors.New("payout service is nil")
	}
	interval := time.Duration(intervalMinutes) * time.Minute
	if interval <= 0 {
		interval = defaultPayoutInterval
	}
	return &PayoutLoop{
		payouts:  consumer.payouts,
		interval: interval,
		now:      time.Now,
	}, nil
}

// Name 服务名称
func (l *PayoutLoop) Name() string {
	return "payout_loop"
}

// Start 立即执行一次，之后按间隔执行，直到 ctx 结束
func (l *PayoutLoop) Start(ctx context.Context) error {
	if l == nil || l.payouts == nil {
		return errors.New("payout loop not initialized")
	}
	l.runOnce(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.runOnce(ctx)
		}
	}
}

// Stop 停止服务，由 Start 的 ctx 控制退出
func (l *PayoutLoop) Stop(ctx context.Context) error {
	return nil
}

func (l *PayoutLoop) runOnce(ctx context.Context) {
	if _, err := l.payouts.AggregateRecent(ctx, l.now()); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Warnw("worker_payout_aggregate_due_failed", "error", err)
	}
}
