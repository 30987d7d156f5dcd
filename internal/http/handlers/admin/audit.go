package admin

import (
	"strings"

	handlershared "github.com/partnerledger/internal/http/handlers/shared"
	"github.com/partnerledger/internal/http/response"
	"github.com/partnerledger/internal/repository"

	"github.com/gin-gonic/gin"
)

// ListAuditLogs 查询运营操作审计日志
func (h *Handler) ListAuditLogs(c *gin.Context) {
	page, pageSize := handlershared.PageQuery(c)
	createdFrom, err := parseTimeNullable(c.Query("created_from"))
	if err != nil {
		respondError(c, response.CodeBadRequest, "created_from must be RFC3339 or YYYY-MM-DD", err)
		return
	}
	createdTo, err := parseTimeNullable(c.Query("created_to"))
	if err != nil {
		respondError(c, response.CodeBadRequest, "created_to must be RFC3339 or YYYY-MM-DD", err)
		return
	}
	rows, total, err := h.OperatorAuditService.List(c.Request.Context(), repository.OperatorAuditLogListFilter{
		Page:        page,
		PageSize:    pageSize,
		OperatorID:  strings.TrimSpace(c.Query("operator_id")),
		Action:      strings.TrimSpace(c.Query("action")),
		CreatedFrom: createdFrom,
		CreatedTo:   createdTo,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, rows, handlershared.BuildPagination(page, pageSize, total))
}
