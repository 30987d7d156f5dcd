package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/partnerledger/internal/config"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/queue"

	"github.com/hibiken/asynq"
)

// SchedulerService 按 cron 表达式投递增量同步任务
type SchedulerService struct {
	scheduler *asynq.Scheduler
	entryID   string
}

// NewSchedulerService 创建周期任务调度服务
func NewSchedulerService(queueCfg *config.QueueConfig, cronSpec string) (*SchedulerService, error) {
	if queueCfg == nil || !queueCfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	cronSpec = strings.TrimSpace(cronSpec)
	if cronSpec == "" {
		return nil, errors.New("sync cron spec is empty")
	}
	task, err := queue.NewSyncIncrementalTask(queue.SyncIncrementalPayload{})
	if err != nil {
		return nil, err
	}
	scheduler := asynq.NewScheduler(queue.BuildRedisOpt(queueCfg), &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	entryID, err := scheduler.Register(cronSpec, task, queue.SyncTaskOptions()...)
	if err != nil {
		return nil, err
	}
	logger.Infow("scheduler_sync_registered", "cron_spec", cronSpec, "entry_id", entryID)
	return &SchedulerService{scheduler: scheduler, entryID: entryID}, nil
}

// Name 服务名称
func (s *SchedulerService) Name() string {
	return "scheduler"
}

// Start 启动调度器并阻塞到 ctx 结束
func (s *SchedulerService) Start(ctx context.Context) error {
	if s == nil || s.scheduler == nil {
		return errors.New("scheduler not initialized")
	}
	if err := s.scheduler.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Stop 停止调度器
func (s *SchedulerService) Stop(ctx context.Context) error {
	if s == nil || s.scheduler == nil {
		return nil
	}
	s.scheduler.Shutdown()
	return nil
}
