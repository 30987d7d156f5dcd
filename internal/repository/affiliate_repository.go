package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/models"

	"gorm.io/gorm"
)

// AffiliateRepository 推广方与别名数据访问接口
type AffiliateRepository interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) AffiliateRepository

	GetByID(ctx context.Context, id uint) (*models.Affiliate, error)
	GetByCode(ctx context.Context, code string) (*models.Affiliate, error)
	FindActiveByCode(ctx context.Context, code string) (*models.Affiliate, error)
	FindActiveByAliasToken(ctx context.Context, token string) (*models.Affiliate, error)
	Create(ctx context.Context, affiliate *models.Affiliate) error
	Update(ctx context.Context, id uint, updates map[string]interface{}) error
	List(ctx context.Context, filter AffiliateListFilter) ([]models.Affiliate, int64, error)
	ListAll(ctx context.Context) ([]models.Affiliate, error)

	CreateAlias(ctx context.Context, alias *models.AffiliateAlias) error
	GetAliasByToken(ctx context.Context, token string) (*models.AffiliateAlias, error)
	ListAliases(ctx context.Context, affiliateID uint) ([]models.AffiliateAlias, error)
	CountLiveAliases(ctx context.Context, affiliateID uint) (int64, error)
	RevokeAlias(ctx context.Context, affiliateID uint, token string, revokedAt time.Time) (int64, error)

	IncrementQualifyingSale(ctx context.Context, affiliateID uint, subscriptionID string) (bool, error)
	ReconcileQualifyingSales(ctx context.Context) (int64, error)
	PromoteTier(ctx context.Context, tier int, minCount int64) (int64, error)
}

// GormAffiliateRepository GORM 推广方仓储
type GormAffiliateRepository struct {
	db *gorm.DB
}

// NewAffiliateRepository 创建推广方仓储
func NewAffiliateRepository(db *gorm.DB) *GormAffiliateRepository {
	return &GormAffiliateRepository{db: db}
}

// WithTx 绑定事务
func (r *GormAffiliateRepository) WithTx(tx *gorm.DB) AffiliateRepository {
	if tx == nil {
		return r
	}
	return &GormAffiliateRepository{db: tx}
}

// Transaction 执行事务
func (r *GormAffiliateRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(fn)
}

// GetByID 按ID获取推广方
func (r *GormAffiliateRepository) GetByID(ctx context.Context, id uint) (*models.Affiliate, error) {
	if id == 0 {
		return nil, nil
	}
	var affiliate models.Affiliate
	if err := r.db.WithContext(ctx).First(&affiliate, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &affiliate, nil
}

// GetByCode 按推广码获取推广方（不区分启用状态）
func (r *GormAffiliateRepository) GetByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	return r.findOne(r.db.WithContext(ctx).Where("code = ?", normalizeToken(code)))
}

// FindActiveByCode 按推广码查找启用中的推广方
func (r *GormAffiliateRepository) FindActiveByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	return r.findOne(r.db.WithContext(ctx).Where("code = ? AND active = ?", normalizeToken(code), true))
}

// FindActiveByAliasToken 按生效别名查找启用中的推广方
func (r *GormAffiliateRepository) FindActiveByAliasToken(ctx context.Context, token string) (*models.Affiliate, error) {
	query := r.db.WithContext(ctx).
		Select("affiliates.*").
		Joins("JOIN affiliate_aliases ON affiliate_aliases.affiliate_id = affiliates.id").
		Where("affiliate_aliases.token = ? AND affiliate_aliases.revoked_at IS NULL", normalizeToken(token)).
		Where("affiliates.active = ?", true)
	return r.findOne(query)
}

func (r *GormAffiliateRepository) findOne(query *gorm.DB) (*models.Affiliate, error) {
	var affiliate models.Affiliate
	if err := query.First(&affiliate).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &affiliate, nil
}

// Create 创建推广方
func (r *GormAffiliateRepository) Create(ctx context.Context, affiliate *models.Affiliate) error {
	if affiliate == nil {
		return nil
	}
	affiliate.Code = normalizeToken(affiliate.Code)
	return r.db.WithContext(ctx).Create(affiliate).Error
}

// Update 更新推广方字段
func (r *GormAffiliateRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	if id == 0 || len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Affiliate{}).Where("id = ?", id).Updates(updates).Error
}

// List 分页查询推广方
func (r *GormAffiliateRepository) List(ctx context.Context, filter AffiliateListFilter) ([]models.Affiliate, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Affiliate{})
	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		condition, argCount := buildLikeCondition(r.db, []string{"code", "name", "email"})
		query = query.Where(condition, repeatLikeArgs("%"+keyword+"%", argCount)...)
	}
	if filter.Tier > 0 {
		query = query.Where("tier = ?", filter.Tier)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if method := strings.TrimSpace(filter.PayoutMethod); method != "" {
		query = query.Where(jsonTextExpr(r.db, "payout_destination", "method")+" = ?", method)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.Affiliate
	if err := applyPagination(query.Order("id ASC"), filter.Page, filter.PageSize).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListAll 获取全部推广方
func (r *GormAffiliateRepository) ListAll(ctx context.Context) ([]models.Affiliate, error) {
	var rows []models.Affiliate
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateAlias 创建别名
func (r *GormAffiliateRepository) CreateAlias(ctx context.Context, alias *models.AffiliateAlias) error {
	if alias == nil {
		return nil
	}
	alias.Token = normalizeToken(alias.Token)
	return r.db.WithContext(ctx).Create(alias).Error
}

// GetAliasByToken 按 token 获取别名（包含已撤销）
func (r *GormAffiliateRepository) GetAliasByToken(ctx context.Context, token string) (*models.AffiliateAlias, error) {
	var alias models.AffiliateAlias
	if err := r.db.WithContext(ctx).Where("token = ?", normalizeToken(token)).First(&alias).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &alias, nil
}

// ListAliases 获取推广方的全部别名
func (r *GormAffiliateRepository) ListAliases(ctx context.Context, affiliateID uint) ([]models.AffiliateAlias, error) {
	var rows []models.AffiliateAlias
	if err := r.db.WithContext(ctx).
		Where("affiliate_id = ?", affiliateID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CountLiveAliases 统计生效中的别名数量
func (r *GormAffiliateRepository) CountLiveAliases(ctx context.Context, affiliateID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.AffiliateAlias{}).
		Where("affiliate_id = ? AND revoked_at IS NULL", affiliateID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// RevokeAlias 撤销别名
func (r *GormAffiliateRepository) RevokeAlias(ctx context.Context, affiliateID uint, token string, revokedAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.AffiliateAlias{}).
		Where("affiliate_id = ? AND token = ? AND revoked_at IS NULL", affiliateID, normalizeToken(token)).
		Update("revoked_at", revokedAt)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// IncrementQualifyingSale 仅当该订阅恰好有一笔佣金流水时累加有效成交数
func (r *GormAffiliateRepository) IncrementQualifyingSale(ctx context.Context, affiliateID uint, subscriptionID string) (bool, error) {
	if affiliateID == 0 || strings.TrimSpace(subscriptionID) == "" {
		return false, nil
	}
	result := r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ?", affiliateID).
		Where("(SELECT COUNT(*) FROM commission_transactions WHERE subscription_id = ? AND type = ?) = 1",
			subscriptionID, constants.TransactionTypeCommission).
		UpdateColumn("qualifying_sale_count", gorm.Expr("qualifying_sale_count + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReconcileQualifyingSales 有效成交数取现值与账本中有佣金的订阅数两者较大者
func (r *GormAffiliateRepository) ReconcileQualifyingSales(ctx context.Context) (int64, error) {
	ledgerCount := "(SELECT COUNT(DISTINCT ct.subscription_id) FROM commission_transactions ct " +
		"WHERE ct.affiliate_id = affiliates.id AND ct.type = ? AND ct.subscription_id <> '')"
	result := r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("qualifying_sale_count < "+ledgerCount, constants.TransactionTypeCommission).
		UpdateColumn("qualifying_sale_count", gorm.Expr(ledgerCount, constants.TransactionTypeCommission))
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// PromoteTier 将达到阈值且等级较低的推广方提升至目标等级
func (r *GormAffiliateRepository) PromoteTier(ctx context.Context, tier int, minCount int64) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("qualifying_sale_count >= ? AND tier < ?", minCount, tier).
		Updates(map[string]interface{}{
			"tier":       tier,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// normalizeToken 推广码与别名统一去空白并转大写
func normalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}
