package repository

import (
	"context"
	"strings"

	"github.com/partnerledger/internal/models"

	"gorm.io/gorm"
)

// OperatorAuditLogRepository 运营审计日志数据访问接口
type OperatorAuditLogRepository interface {
	Create(ctx context.Context, log *models.OperatorAuditLog) error
	List(ctx context.Context, filter OperatorAuditLogListFilter) ([]models.OperatorAuditLog, int64, error)
}

// GormOperatorAuditLogRepository GORM 实现
type GormOperatorAuditLogRepository struct {
	db *gorm.DB
}

// NewOperatorAuditLogRepository 创建运营审计日志仓库
func NewOperatorAuditLogRepository(db *gorm.DB) *GormOperatorAuditLogRepository {
	return &GormOperatorAuditLogRepository{db: db}
}

// Create 写入审计日志
func (r *GormOperatorAuditLogRepository) Create(ctx context.Context, log *models.OperatorAuditLog) error {
	if log == nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// List 分页查询审计日志
func (r *GormOperatorAuditLogRepository) List(ctx context.Context, filter OperatorAuditLogListFilter) ([]models.OperatorAuditLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.OperatorAuditLog{})
	if operatorID := strings.TrimSpace(filter.OperatorID); operatorID != "" {
		query = query.Where("operator_id = ?", operatorID)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		query = query.Where("action = ?", action)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", filter.CreatedTo.UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	logs := make([]models.OperatorAuditLog, 0)
	if err := applyPagination(query.Order("id DESC"), filter.Page, filter.PageSize).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
