package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository 佣金流水数据访问接口
type LedgerRepository interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) LedgerRepository

	CreateIfAbsent(ctx context.Context, row *models.CommissionTransaction) (bool, error)
	FindOriginalCommission(ctx context.Context, chargeID, invoiceID string) (*models.CommissionTransaction, error)
	GetByExternalID(ctx context.Context, externalID, txType string) (*models.CommissionTransaction, error)
	CountBySubscription(ctx context.Context, subscriptionID, txType string) (int64, error)
	List(ctx context.Context, filter TransactionListFilter) ([]models.CommissionTransaction, int64, error)
	AggregateByAffiliate(ctx context.Context, from, to time.Time) ([]AffiliateLedgerAggregate, error)
	EarliestAvailableAt(ctx context.Context) (*time.Time, error)
}

// GormLedgerRepository GORM 佣金流水仓储
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository 创建佣金流水仓储
func NewLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

// WithTx 绑定事务
func (r *GormLedgerRepository) WithTx(tx *gorm.DB) LedgerRepository {
	if tx == nil {
		return r
	}
	return &GormLedgerRepository{db: tx}
}

// Transaction 执行事务
func (r *GormLedgerRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(fn)
}

// CreateIfAbsent 按 (external_id, type) 幂等写入流水，返回是否新写入
func (r *GormLedgerRepository) CreateIfAbsent(ctx context.Context, row *models.CommissionTransaction) (bool, error) {
	if row == nil {
		return false, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}, {Name: "type"}},
			DoNothing: true,
		}).
		Create(row)
	if result.Error != nil {
		if IsUniqueViolation(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FindOriginalCommission 查找冲正对应的原始佣金：优先扣款ID，其次账单ID
func (r *GormLedgerRepository) FindOriginalCommission(ctx context.Context, chargeID, invoiceID string) (*models.CommissionTransaction, error) {
	if chargeID = strings.TrimSpace(chargeID); chargeID != "" {
		row, err := r.firstCommission(r.db.WithContext(ctx).Where("charge_id = ?", chargeID))
		if err != nil || row != nil {
			return row, err
		}
	}
	if invoiceID = strings.TrimSpace(invoiceID); invoiceID != "" {
		return r.firstCommission(r.db.WithContext(ctx).Where("external_id = ?", invoiceID))
	}
	return nil, nil
}

func (r *GormLedgerRepository) firstCommission(query *gorm.DB) (*models.CommissionTransaction, error) {
	var row models.CommissionTransaction
	if err := query.Where("type = ?", constants.TransactionTypeCommission).
		Order("id ASC").
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// GetByExternalID 按外部ID与类型获取流水
func (r *GormLedgerRepository) GetByExternalID(ctx context.Context, externalID, txType string) (*models.CommissionTransaction, error) {
	var row models.CommissionTransaction
	if err := r.db.WithContext(ctx).
		Where("external_id = ? AND type = ?", strings.TrimSpace(externalID), txType).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// CountBySubscription 统计订阅下某类型流水数量
func (r *GormLedgerRepository) CountBySubscription(ctx context.Context, subscriptionID, txType string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.CommissionTransaction{}).
		Where("subscription_id = ? AND type = ?", subscriptionID, txType).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// List 分页查询佣金流水
func (r *GormLedgerRepository) List(ctx context.Context, filter TransactionListFilter) ([]models.CommissionTransaction, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.CommissionTransaction{})
	if filter.AffiliateID > 0 {
		query = query.Where("affiliate_id = ?", filter.AffiliateID)
	}
	if txType := strings.TrimSpace(filter.Type); txType != "" {
		query = query.Where("type = ?", txType)
	}
	if sub := strings.TrimSpace(filter.SubscriptionID); sub != "" {
		query = query.Where("subscription_id = ?", sub)
	}
	if customer := strings.TrimSpace(filter.CustomerID); customer != "" {
		query = query.Where("customer_id = ?", customer)
	}
	if filter.AvailableFrom != nil {
		query = query.Where("available_at >= ?", filter.AvailableFrom.UTC())
	}
	if filter.AvailableTo != nil {
		query = query.Where("available_at < ?", filter.AvailableTo.UTC())
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.CommissionTransaction
	if err := applyPagination(query.Order("paid_at DESC, id DESC"), filter.Page, filter.PageSize).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// AggregateByAffiliate 按推广方汇总 [from, to) 区间内可结算的流水
func (r *GormLedgerRepository) AggregateByAffiliate(ctx context.Context, from, to time.Time) ([]AffiliateLedgerAggregate, error) {
	var rows []AffiliateLedgerAggregate
	err := r.db.WithContext(ctx).Model(&models.CommissionTransaction{}).
		Select(
			"affiliate_id, "+
				"COALESCE(SUM(CASE WHEN type = ? THEN commission_amount_cents ELSE 0 END), 0) AS commission_cents, "+
				"COALESCE(SUM(CASE WHEN type <> ? THEN commission_amount_cents ELSE 0 END), 0) AS negative_cents, "+
				"COUNT(*) AS tx_count",
			constants.TransactionTypeCommission, constants.TransactionTypeCommission,
		).
		Where("available_at >= ? AND available_at < ?", from.UTC(), to.UTC()).
		Group("affiliate_id").
		Order("affiliate_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].NegativeCents < 0 {
			rows[i].NegativeCents = -rows[i].NegativeCents
		}
	}
	return rows, nil
}

// EarliestAvailableAt 获取最早的可结算时间
func (r *GormLedgerRepository) EarliestAvailableAt(ctx context.Context) (*time.Time, error) {
	var row models.CommissionTransaction
	if err := r.db.WithContext(ctx).Order("available_at ASC").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	at := row.AvailableAt
	return &at, nil
}
