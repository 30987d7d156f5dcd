package admin

import (
	"strconv"
	"strings"

	handlershared "github.com/partnerledger/internal/http/handlers/shared"
	"github.com/partnerledger/internal/http/response"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/repository"
	"github.com/partnerledger/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateAffiliateRequest 创建推广方请求
type CreateAffiliateRequest struct {
	Code              string                 `json:"code"`
	Name              string                 `json:"name" binding:"required"`
	Email             string                 `json:"email"`
	PayoutDestination map[string]interface{} `json:"payout_destination"`
}

// UpdateAffiliateRequest 更新推广方请求
type UpdateAffiliateRequest struct {
	Name              *string                `json:"name"`
	Email             *string                `json:"email"`
	Active            *bool                  `json:"active"`
	PayoutDestination map[string]interface{} `json:"payout_destination"`
}

// AddAliasRequest 新增别名请求
type AddAliasRequest struct {
	Token string `json:"token" binding:"required"`
}

// ListAffiliates 分页查询推广方
func (h *Handler) ListAffiliates(c *gin.Context) {
	page, pageSize := handlershared.PageQuery(c)
	filter := repository.AffiliateListFilter{
		Page:         page,
		PageSize:     pageSize,
		Keyword:      strings.TrimSpace(c.Query("keyword")),
		PayoutMethod: strings.TrimSpace(c.Query("payout_method")),
	}
	if raw := strings.TrimSpace(c.Query("tier")); raw != "" {
		tier, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, response.CodeBadRequest, "tier must be an integer", err)
			return
		}
		filter.Tier = tier
	}
	if raw := strings.TrimSpace(c.Query("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, response.CodeBadRequest, "active must be a boolean", err)
			return
		}
		filter.Active = &active
	}
	rows, total, err := h.AffiliateService.ListAffiliates(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, rows, handlershared.BuildPagination(page, pageSize, total))
}

// GetAffiliate 获取推广方详情
func (h *Handler) GetAffiliate(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	affiliate, err := h.AffiliateService.GetAffiliate(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, affiliate)
}

// CreateAffiliate 创建推广方
func (h *Handler) CreateAffiliate(c *gin.Context) {
	var req CreateAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "name is required", err)
		return
	}
	affiliate, err := h.AffiliateService.CreateAffiliate(c.Request.Context(), service.AffiliateCreateInput{
		Code:              req.Code,
		Name:              req.Name,
		Email:             req.Email,
		PayoutDestination: req.PayoutDestination,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.recordAudit(c, service.AuditActionAffiliateWrite, models.JSON{"affiliate_id": affiliate.ID, "op": "create", "code": affiliate.Code})
	response.Success(c, affiliate)
}

// UpdateAffiliate 更新推广方资料与启用状态
func (h *Handler) UpdateAffiliate(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req UpdateAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", err)
		return
	}
	affiliate, err := h.AffiliateService.UpdateAffiliate(c.Request.Context(), id, service.AffiliateUpdateInput{
		Name:              req.Name,
		Email:             req.Email,
		Active:            req.Active,
		PayoutDestination: req.PayoutDestination,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.recordAudit(c, service.AuditActionAffiliateWrite, models.JSON{"affiliate_id": id, "op": "update"})
	response.Success(c, affiliate)
}

// AddAffiliateAlias 新增别名
func (h *Handler) AddAffiliateAlias(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req AddAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "token is required", err)
		return
	}
	alias, err := h.AffiliateService.AddAlias(c.Request.Context(), id, req.Token)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.recordAudit(c, service.AuditActionAffiliateWrite, models.JSON{"affiliate_id": id, "op": "alias_add", "token": alias.Token})
	response.Success(c, alias)
}

// RevokeAffiliateAlias 撤销别名
func (h *Handler) RevokeAffiliateAlias(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	token := strings.TrimSpace(c.Param("token"))
	if err := h.AffiliateService.RevokeAlias(c.Request.Context(), id, token); err != nil {
		respondServiceError(c, err)
		return
	}
	h.recordAudit(c, service.AuditActionAffiliateWrite, models.JSON{"affiliate_id": id, "op": "alias_revoke", "token": token})
	response.Success(c, gin.H{"revoked": true})
}

// RecomputeTiers 按有效成交数提升推广方等级
func (h *Handler) RecomputeTiers(c *gin.Context) {
	result, err := h.AffiliateService.RecomputeTiers(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.recordAudit(c, service.AuditActionAffiliateWrite, models.JSON{"op": "recompute_tiers", "promoted": result.Total()})
	response.Success(c, result)
}

// ListLinks 查询客户归因
func (h *Handler) ListLinks(c *gin.Context) {
	page, pageSize := handlershared.PageQuery(c)
	affiliateID, ok := parseOptionalUint(c, "affiliate_id")
	if !ok {
		return
	}
	rows, total, err := h.AffiliateService.ListLinks(c.Request.Context(), repository.LinkListFilter{
		Page:        page,
		PageSize:    pageSize,
		AffiliateID: affiliateID,
		Source:      strings.TrimSpace(c.Query("source")),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.SuccessWithPage(c, rows, handlershared.BuildPagination(page, pageSize, total))
}

func parseIDParam(c *gin.Context) (uint, bool) {
	value, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || value == 0 {
		respondError(c, response.CodeBadRequest, "invalid id", err)
		return 0, false
	}
	return uint(value), true
}
