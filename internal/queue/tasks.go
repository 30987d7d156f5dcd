package queue

import (
	"encoding/json"
	"strings"

	"github.com/partnerledger/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskCommerceEvent 处理已入库的实时事件
	TaskCommerceEvent = constants.TaskCommerceEvent
	// TaskSyncIncremental 增量同步
	TaskSyncIncremental = constants.TaskSyncIncremental
	// TaskPayoutAggregate 月度结算汇总
	TaskPayoutAggregate = constants.TaskPayoutAggregate
)

// CommerceEventPayload 实时事件任务载荷
type CommerceEventPayload struct {
	EventID string `json:"event_id"`
}

// SyncIncrementalPayload 增量同步任务载荷
type SyncIncrementalPayload struct {
	TriggeredBy string `json:"triggered_by"`
}

// PayoutAggregatePayload 结算汇总任务载荷，月份为空时汇总当前与上一个月
type PayoutAggregatePayload struct {
	Month string `json:"month,omitempty"`
}

// NewCommerceEventTask 创建实时事件任务
func NewCommerceEventTask(payload CommerceEventPayload) (*asynq.Task, error) {
	return newJSONTask(TaskCommerceEvent, payload)
}

// NewSyncIncrementalTask 创建增量同步任务
func NewSyncIncrementalTask(payload SyncIncrementalPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.TriggeredBy) == "" {
		payload.TriggeredBy = constants.TriggerScheduler
	}
	return newJSONTask(TaskSyncIncremental, payload)
}

// NewPayoutAggregateTask 创建结算汇总任务
func NewPayoutAggregateTask(payload PayoutAggregatePayload) (*asynq.Task, error) {
	return newJSONTask(TaskPayoutAggregate, payload)
}

func newJSONTask(taskType string, payload interface{}) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body), nil
}
