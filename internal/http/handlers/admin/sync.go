package admin

import (
	"context"
	"strconv"
	"strings"

	handlershared "github.com/partnerledger/internal/http/handlers/shared"
	"github.com/partnerledger/internal/http/response"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/repository"
	"github.com/partnerledger/internal/service"

	"github.com/gin-gonic/gin"
)

// ResyncRequest 重同步请求
type ResyncRequest struct {
	Days int `json:"days"`
}

// Resync 按天数重同步，以 NDJSON 输出进度与摘要
func (h *Handler) Resync(c *gin.Context) {
	var req ResyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", err)
		return
	}
	maxDays := h.SyncService.ResyncMaxDays()
	if req.Days < 1 || req.Days > maxDays {
		respondError(c, response.CodeBadRequest, "days must be between 1 and "+strconv.Itoa(maxDays), nil)
		return
	}
	operatorID := handlershared.OperatorID(c)
	h.recordAudit(c, service.AuditActionResync, models.JSON{"days": req.Days})
	streamRun(c, func(ctx context.Context, reporter service.ProgressReporter) (*service.SyncSummary, error) {
		return h.SyncService.RunResync(ctx, req.Days, triggeredBy(operatorID), reporter)
	})
}

// Backfill 导入历史数据（请求体为导出 JSON），以 NDJSON 输出进度与摘要
func (h *Handler) Backfill(c *gin.Context) {
	export, err := service.DecodeLegacyExport(c.Request.Body)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if export.Since.IsZero() {
		respondError(c, response.CodeBadRequest, "since is required", nil)
		return
	}
	operatorID := handlershared.OperatorID(c)
	h.recordAudit(c, service.AuditActionBackfill, models.JSON{
		"since":         export.Since,
		"cutover_month": export.CutoverMonth,
		"affiliates":    len(export.Affiliates),
		"links":         len(export.Links),
	})
	streamRun(c, func(ctx context.Context, reporter service.ProgressReporter) (*service.SyncSummary, error) {
		return h.BackfillService.Run(ctx, *export, triggeredBy(operatorID), reporter)
	})
}

// ListSyncRuns 查询同步运行记录
func (h *Handler) ListSyncRuns(c *gin.Context) {
	page, pageSize := handlershared.PageQuery(c)
	rows, total, err := h.SyncService.ListRuns(c.Request.Context(), repository.SyncRunListFilter{
		Page:     page,
		PageSize: pageSize,
		Kind:     strings.TrimSpace(c.Query("kind")),
		Status:   strings.TrimSpace(c.Query("status")),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, rows, handlershared.BuildPagination(page, pageSize, total))
}

func streamRun(c *gin.Context, run func(ctx context.Context, reporter service.ProgressReporter) (*service.SyncSummary, error)) {
	log := requestLog(c)
	handlershared.StreamNDJSON(c, func(ctx context.Context, emit func(handlershared.StreamLine)) {
		reporter := func(update service.ProgressUpdate) {
			emit(handlershared.StreamLine{Type: handlershared.StreamLineProgress, Payload: update})
		}
		summary, err := run(ctx, reporter)
		if summary != nil {
			emit(handlershared.StreamLine{Type: handlershared.StreamLineSummary, Payload: summary})
		}
		if err != nil {
			log.Warnw("admin_sync_run_failed", "error", err)
			code, msg := handlershared.MapServiceError(err)
			emit(handlershared.StreamLine{
				Type:    handlershared.StreamLineError,
				Payload: gin.H{"status_code": code, "msg": msg},
			})
		}
	})
}

func triggeredBy(operatorID string) string {
	if operatorID == "" {
		return "operator"
	}
	return "operator:" + operatorID
}
