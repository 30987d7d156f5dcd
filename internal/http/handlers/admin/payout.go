package admin

import (
	"strconv"
	"strings"
	"time"

	handlershared "github.com/partnerledger/internal/http/handlers/shared"
	"github.com/partnerledger/internal/http/response"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/repository"
	"github.com/partnerledger/internal/service"

	"github.com/gin-gonic/gin"
)

// PayoutAggregateRequest 汇总请求，月份为空时汇总当前与上一个月
type PayoutAggregateRequest struct {
	Month string `json:"month"`
}

// MarkPaidRequest 标记支付请求
type MarkPaidRequest struct {
	Month        string `json:"month" binding:"required"`
	AffiliateIDs []uint `json:"affiliate_ids" binding:"required"`
}

// ListPayouts 按月份与状态查询月度结算
func (h *Handler) ListPayouts(c *gin.Context) {
	page, pageSize := handlershared.PageQuery(c)
	affiliateID, ok := parseOptionalUint(c, "affiliate_id")
	if !ok {
		return
	}
	rows, total, err := h.PayoutService.ListPayouts(c.Request.Context(), repository.PayoutListFilter{
		Page:        page,
		PageSize:    pageSize,
		Month:       strings.TrimSpace(c.Query("month")),
		Status:      strings.TrimSpace(c.Query("status")),
		AffiliateID: affiliateID,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, rows, handlershared.BuildPagination(page, pageSize, total))
}

// AggregatePayouts 按需汇总
func (h *Handler) AggregatePayouts(c *gin.Context) {
	var req PayoutAggregateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, response.CodeBadRequest, "invalid request body", err)
			return
		}
	}
	ctx := c.Request.Context()
	month := strings.TrimSpace(req.Month)
	var (
		results []service.PayoutAggregateResult
		err     error
	)
	if month == "" {
		results, err = h.PayoutService.AggregateRecent(ctx, time.Now())
	} else {
		var result service.PayoutAggregateResult
		result, err = h.PayoutService.AggregateMonth(ctx, month)
		results = []service.PayoutAggregateResult{result}
	}
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.recordAudit(c, service.AuditActionPayoutAggregate, models.JSON{"month": month, "months": len(results)})
	response.Success(c, results)
}

// MarkPayoutsPaid 将一个或多个推广方的月度结算标记为已支付
func (h *Handler) MarkPayoutsPaid(c *gin.Context) {
	var req MarkPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "month and affiliate_ids are required", err)
		return
	}
	paidBy := triggeredBy(handlershared.OperatorID(c))
	result, err := h.PayoutService.MarkPaid(c.Request.Context(), req.Month, req.AffiliateIDs, paidBy)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.recordAudit(c, service.AuditActionPayoutMarkPaid, models.JSON{
		"month":         result.Month,
		"affiliate_ids": req.AffiliateIDs,
		"marked":        result.Marked,
		"already_paid":  result.AlreadyPaid,
	})
	response.Success(c, result)
}

// ListTransactions 查询佣金流水
func (h *Handler) ListTransactions(c *gin.Context) {
	page, pageSize := handlershared.PageQuery(c)
	affiliateID, ok := parseOptionalUint(c, "affiliate_id")
	if !ok {
		return
	}
	availableFrom, err := parseTimeNullable(c.Query("available_from"))
	if err != nil {
		respondError(c, response.CodeBadRequest, "available_from must be RFC3339 or YYYY-MM-DD", err)
		return
	}
	availableTo, err := parseTimeNullable(c.Query("available_to"))
	if err != nil {
		respondError(c, response.CodeBadRequest, "available_to must be RFC3339 or YYYY-MM-DD", err)
		return
	}
	rows, total, err := h.PayoutService.ListTransactions(c.Request.Context(), repository.TransactionListFilter{
		Page:           page,
		PageSize:       pageSize,
		AffiliateID:    affiliateID,
		Type:           strings.TrimSpace(c.Query("type")),
		SubscriptionID: strings.TrimSpace(c.Query("subscription_id")),
		CustomerID:     strings.TrimSpace(c.Query("customer_id")),
		AvailableFrom:  availableFrom,
		AvailableTo:    availableTo,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, rows, handlershared.BuildPagination(page, pageSize, total))
}

func parseOptionalUint(c *gin.Context, key string) (uint, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, true
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(c, response.CodeBadRequest, key+" must be a positive integer", err)
		return 0, false
	}
	return uint(value), true
}

func parseTimeNullable(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
