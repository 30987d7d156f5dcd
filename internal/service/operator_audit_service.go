package service

import (
	"context"
	"strings"
	"time"

	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/repository"
)

// 审计动作
const (
	AuditActionResync          = "sync.resync"
	AuditActionBackfill        = "sync.backfill"
	AuditActionPayoutAggregate = "payout.aggregate"
	AuditActionPayoutMarkPaid  = "payout.mark_paid"
	AuditActionPolicyUpdate    = "setting.commission_policy"
	AuditActionEventRetry      = "ingestion.retry"
	AuditActionAffiliateWrite  = "affiliate.write"
)

// OperatorAuditInput 审计记录输入
type OperatorAuditInput struct {
	OperatorID string
	Action     string
	Object     string
	Method     string
	RequestID  string
	Detail     models.JSON
}

// OperatorAuditService 运营操作审计服务
type OperatorAuditService struct {
	repo repository.OperatorAuditLogRepository
}

// NewOperatorAuditService 创建审计服务
func NewOperatorAuditService(repo repository.OperatorAuditLogRepository) *OperatorAuditService {
	return &OperatorAuditService{repo: repo}
}

// Record 写入审计日志，失败只记日志不影响业务结果
func (s *OperatorAuditService) Record(ctx context.Context, input OperatorAuditInput) {
	if s == nil || s.repo == nil {
		return
	}
	operatorID := strings.TrimSpace(input.OperatorID)
	action := strings.TrimSpace(input.Action)
	if operatorID == "" || action == "" {
		return
	}
	item := &models.OperatorAuditLog{
		OperatorID: operatorID,
		Action:     action,
		Object:     strings.TrimSpace(input.Object),
		Method:     strings.ToUpper(strings.TrimSpace(input.Method)),
		RequestID:  strings.TrimSpace(input.RequestID),
		DetailJSON: input.Detail,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(context.WithoutCancel(ctx), item); err != nil {
		logger.Warnw("operator_audit_write_failed",
			"operator_id", operatorID,
			"action", action,
			"error", err,
		)
	}
}

// List 查询审计日志
func (s *OperatorAuditService) List(ctx context.Context, filter repository.OperatorAuditLogListFilter) ([]models.OperatorAuditLog, int64, error) {
	if s == nil || s.repo == nil {
		return []models.OperatorAuditLog{}, 0, nil
	}
	return s.repo.List(ctx, filter)
}
