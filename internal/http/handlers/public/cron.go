package public

import (
	"context"

	"github.com/partnerledger/internal/constants"
	handlershared "github.com/partnerledger/internal/http/handlers/shared"
	"github.com/partnerledger/internal/http/response"

	"github.com/gin-gonic/gin"
)

// CronIncrementalSync 外部定时器触发增量同步，返回运行摘要
func (h *Handler) CronIncrementalSync(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.SyncService.RunTimeout())
	defer cancel()
	summary, err := h.SyncService.RunIncremental(ctx, constants.TriggerCron)
	if summary == nil && err != nil {
		handlershared.RespondServiceError(c, err)
		return
	}
	if err != nil {
		handlershared.RequestLog(c).Warnw("cron_incremental_sync_failed", "run_id", summary.RunID, "error", err)
	}
	response.Success(c, summary)
}
