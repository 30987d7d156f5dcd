package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/provider"
	"github.com/partnerledger/internal/queue"
	"github.com/partnerledger/internal/service"

	"github.com/hibiken/asynq"
)

type eventProcessor interface {
	ProcessEvent(ctx context.Context, eventID string) (service.ApplyOutcome, error)
}

type incrementalSyncer interface {
	RunIncremental(ctx context.Context, triggeredBy string) (*service.SyncSummary, error)
	RunTimeout() time.Duration
}

type payoutAggregator interface {
	AggregateMonth(ctx context.Context, month string) (service.PayoutAggregateResult, error)
	AggregateRecent(ctx context.Context, now time.Time) ([]service.PayoutAggregateResult, error)
}

// Consumer 异步任务消费者
type Consumer struct {
	events  eventProcessor
	sync    incrementalSyncer
	payouts payoutAggregator
	now     func() time.Time
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	consumer := &Consumer{now: time.Now}
	if c == nil {
		return consumer
	}
	if c.IngestionService != nil {
		consumer.events = c.IngestionService
	}
	if c.SyncService != nil {
		consumer.sync = c.SyncService
	}
	if c.PayoutService != nil {
		consumer.payouts = c.PayoutService
	}
	return consumer
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskCommerceEvent, c.handleCommerceEvent)
	mux.HandleFunc(queue.TaskSyncIncremental, c.handleSyncIncremental)
	mux.HandleFunc(queue.TaskPayoutAggregate, c.handlePayoutAggregate)
}

func (c *Consumer) handleCommerceEvent(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.events == nil {
		logger.Debugw("worker_commerce_event_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.CommerceEventPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_commerce_event_unmarshal_failed", "error", err)
		return err
	}
	eventID := strings.TrimSpace(payload.EventID)
	if eventID == "" {
		logger.Debugw("worker_commerce_event_skip_invalid_payload")
		return nil
	}
	outcome, err := c.events.ProcessEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, service.ErrEventNotFound) {
			logger.Debugw("worker_commerce_event_skip_not_found", "event_id", eventID)
			return nil
		}
		if errors.Is(err, service.ErrInvalidInput) {
			// 已记为 failed，等待人工重试
			logger.Warnw("worker_commerce_event_unprocessable", "event_id", eventID, "error", err)
			return nil
		}
		logger.Warnw("worker_commerce_event_failed", "event_id", eventID, "error", err)
		return err
	}
	logger.Debugw("worker_commerce_event_done", "event_id", eventID, "outcome", outcome)
	return nil
}

func (c *Consumer) handleSyncIncremental(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.sync == nil {
		logger.Debugw("worker_sync_incremental_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.SyncIncrementalPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_sync_incremental_unmarshal_failed", "error", err)
		return err
	}
	// 调度触发的同步与请求生命周期无关，只受整体超时约束
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.sync.RunTimeout())
	defer cancel()
	summary, err := c.sync.RunIncremental(runCtx, payload.TriggeredBy)
	if err != nil {
		logger.Warnw("worker_sync_incremental_failed", "triggered_by", payload.TriggeredBy, "error", err)
		return err
	}
	logger.Infow("worker_sync_incremental_done",
		"run_id", summary.RunID,
		"status", summary.Status,
		"error_total", summary.ErrorTotal,
	)
	return nil
}

func (c *Consumer) handlePayoutAggregate(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.payouts == nil {
		logger.Debugw("worker_payout_aggregate_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.PayoutAggregatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_payout_aggregate_unmarshal_failed", "error", err)
		return err
	}
	month := strings.TrimSpace(payload.Month)
	if month == "" {
		if _, err := c.payouts.AggregateRecent(ctx, c.now()); err != nil {
			logger.Warnw("worker_payout_aggregate_recent_failed", "error", err)
			return err
		}
		return nil
	}
	if _, err := c.payouts.AggregateMonth(ctx, month); err != nil {
		if errors.Is(err, service.ErrPayoutMonthInvalid) {
			logger.Warnw("worker_payout_aggregate_skip_invalid_month", "month", month)
			return nil
		}
		logger.Warnw("worker_payout_aggregate_failed", "month", month, "error", err)
		return err
	}
	return nil
}
