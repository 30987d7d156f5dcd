package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/partnerledger/internal/config"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/provider"
	"github.com/partnerledger/internal/router"
	"github.com/partnerledger/internal/worker"
)

const staleRunCancelTimeout = 10 * time.Second

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, mode string) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	container, err := provider.NewContainer(cfg)
	if err != nil {
		return nil, err
	}

	// 单进程部署时，上次进程遗留的运行中记录不会再完成
	if mode == ModeAll {
		cancelStaleRuns(container)
	}

	var services []Service

	// 初始化 HTTP 服务
	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container)
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		services = append(services, NewHTTPService(addr, engine))
	}

	// 初始化 Worker、结算循环与定时同步
	if mode == ModeAll || mode == ModeWorker {
		consumer := worker.NewConsumer(container)
		if container.QueueClient.Enabled() {
			workerService, err := worker.NewService(&cfg.Queue, consumer)
			if err != nil {
				container.Close()
				return nil, err
			}
			services = append(services, workerService)

			if strings.TrimSpace(cfg.Sync.CronSpec) != "" {
				schedulerService, err := worker.NewSchedulerService(&cfg.Queue, cfg.Sync.CronSpec)
				if err != nil {
					container.Close()
					return nil, err
				}
				services = append(services, schedulerService)
			}
		} else {
			logger.Warnw("app_queue_disabled",
				"mode", mode,
				"hint", "webhook events are processed inline; use the cron endpoint for incremental sync",
			)
		}

		payoutLoop, err := worker.NewPayoutLoop(consumer, cfg.Sync.PayoutIntervalMinutes)
		if err != nil {
			container.Close()
			return nil, err
		}
		services = append(services, payoutLoop)
	}

	if len(services) == 0 {
		container.Close()
		return nil, errors.New("no services initialized (check mode and config)")
	}

	runner := NewRunner(services...)
	runner.OnShutdown(container.Close)
	return runner, nil
}

func cancelStaleRuns(container *provider.Container) {
	if container == nil || container.SyncService == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), staleRunCancelTimeout)
	defer cancel()
	canceled, err := container.SyncService.CancelStaleRuns(ctx)
	if err != nil {
		logger.Errorw("app_cancel_stale_runs_failed", "error", err)
		return
	}
	if canceled > 0 {
		logger.Warnw("app_stale_runs_canceled", "count", canceled)
	}
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	runner, err := BuildRunner(opts.Config, opts.Mode)
	if err != nil {
		return err
	}

	addr := opts.Config.Server.Host + ":" + opts.Config.Server.Port
	opts.Logger.Infow("app_start", "addr", addr, "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}
