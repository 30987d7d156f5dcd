package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/partnerledger/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttributionRepository 客户归因数据访问接口
type AttributionRepository interface {
	WithTx(tx *gorm.DB) AttributionRepository
	GetLink(ctx context.Context, customerID string) (*models.CustomerAffiliateLink, error)
	CreateLinkIfAbsent(ctx context.Context, link *models.CustomerAffiliateLink) (bool, error)
	ListLinks(ctx context.Context, filter LinkListFilter) ([]models.CustomerAffiliateLink, int64, error)
}

// GormAttributionRepository GORM 客户归因仓储
type GormAttributionRepository struct {
	db *gorm.DB
}

// NewAttributionRepository 创建客户归因仓储
func NewAttributionRepository(db *gorm.DB) *GormAttributionRepository {
	return &GormAttributionRepository{db: db}
}

// WithTx 绑定事务
func (r *GormAttributionRepository) WithTx(tx *gorm.DB) AttributionRepository {
	if tx == nil {
		return r
	}
	return &GormAttributionRepository{db: tx}
}

// GetLink 获取客户归因
func (r *GormAttributionRepository) GetLink(ctx context.Context, customerID string) (*models.CustomerAffiliateLink, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, nil
	}
	var link models.CustomerAffiliateLink
	if err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}

// CreateLinkIfAbsent 写入客户归因，已存在时不覆盖，返回是否由本次写入
func (r *GormAttributionRepository) CreateLinkIfAbsent(ctx context.Context, link *models.CustomerAffiliateLink) (bool, error) {
	if link == nil || strings.TrimSpace(link.CustomerID) == "" {
		return false, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "customer_id"}},
			DoNothing: true,
		}).
		Create(link)
	if result.Error != nil {
		if IsUniqueViolation(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListLinks 分页查询客户归因
func (r *GormAttributionRepository) ListLinks(ctx context.Context, filter LinkListFilter) ([]models.CustomerAffiliateLink, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.CustomerAffiliateLink{})
	if filter.AffiliateID > 0 {
		query = query.Where("affiliate_id = ?", filter.AffiliateID)
	}
	if source := strings.TrimSpace(filter.Source); source != "" {
		query = query.Where("source = ?", source)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.CustomerAffiliateLink
	if err := applyPagination(query.Order("id DESC"), filter.Page, filter.PageSize).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
