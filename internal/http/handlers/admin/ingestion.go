package admin

import (
	"strings"

	handlershared "github.com/partnerledger/internal/http/handlers/shared"
	"github.com/partnerledger/internal/http/response"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/repository"
	"github.com/partnerledger/internal/service"

	"github.com/gin-gonic/gin"
)

// ListIngestionEvents 查询事件入库记录（默认只看失败）
func (h *Handler) ListIngestionEvents(c *gin.Context) {
	page, pageSize := handlershared.PageQuery(c)
	rows, total, err := h.IngestionService.ListEvents(c.Request.Context(), repository.IngestionEventListFilter{
		Page:      page,
		PageSize:  pageSize,
		Status:    strings.TrimSpace(c.DefaultQuery("status", "failed")),
		EventType: strings.TrimSpace(c.Query("event_type")),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, rows, handlershared.BuildPagination(page, pageSize, total))
}

// RetryIngestionEvent 手动重放一条事件
func (h *Handler) RetryIngestionEvent(c *gin.Context) {
	eventID := strings.TrimSpace(c.Param("event_id"))
	outcome, err := h.IngestionService.RetryEvent(c.Request.Context(), eventID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.recordAudit(c, service.AuditActionEventRetry, models.JSON{"event_id": eventID, "outcome": string(outcome)})
	response.Success(c, gin.H{"event_id": eventID, "outcome": outcome})
}
