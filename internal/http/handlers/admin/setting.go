package admin

import (
	"github.com/partnerledger/internal/http/response"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/service"

	"github.com/gin-gonic/gin"
)

// GetCommissionPolicy 获取佣金策略
func (h *Handler) GetCommissionPolicy(c *gin.Context) {
	policy, err := h.SettingService.GetCommissionPolicy(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, policy)
}

// UpdateCommissionPolicy 更新佣金策略，仅影响之后入账的流水
func (h *Handler) UpdateCommissionPolicy(c *gin.Context) {
	var req service.CommissionPolicy
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "invalid request body", err)
		return
	}
	policy, err := h.SettingService.UpdateCommissionPolicy(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.recordAudit(c, service.AuditActionPolicyUpdate, models.JSON(service.CommissionPolicyToMap(policy)))
	response.Success(c, policy)
}
