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

// PayoutRepository 月度结算数据访问接口
type PayoutRepository interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) PayoutRepository

	UpsertAggregate(ctx context.Context, row *models.MonthlyPayout) (bool, error)
	UpsertBackfillPaid(ctx context.Context, row *models.MonthlyPayout) (bool, error)
	Get(ctx context.Context, month string, affiliateID uint) (*models.MonthlyPayout, error)
	ListForUpdate(ctx context.Context, month string, affiliateIDs []uint) ([]models.MonthlyPayout, error)
	MarkPaid(ctx context.Context, ids []uint, paidAt time.Time, paidBy string) (int64, error)
	List(ctx context.Context, filter PayoutListFilter) ([]models.MonthlyPayout, int64, error)
}

// GormPayoutRepository GORM 月度结算仓储
type GormPayoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository 创建月度结算仓储
func NewPayoutRepository(db *gorm.DB) *GormPayoutRepository {
	return &GormPayoutRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPayoutRepository) WithTx(tx *gorm.DB) PayoutRepository {
	if tx == nil {
		return r
	}
	return &GormPayoutRepository{db: tx}
}

// Transaction 执行事务
func (r *GormPayoutRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(fn)
}

// notPaidCondition 已支付的结算行不再被覆盖
func notPaidCondition() clause.Where {
	return clause.Where{Exprs: []clause.Expression{
		clause.Expr{SQL: "monthly_payouts.status <> ?", Vars: []interface{}{constants.PayoutStatusPaid}},
	}}
}

// UpsertAggregate 写入聚合结果，已支付的行保持不变；返回是否写入
func (r *GormPayoutRepository) UpsertAggregate(ctx context.Context, row *models.MonthlyPayout) (bool, error) {
	if row == nil {
		return false, nil
	}
	now := time.Now()
	row.Status = constants.PayoutStatusPending
	row.Source = constants.PayoutSourceAggregator
	row.UpdatedAt = now
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "month"}, {Name: "affiliate_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_commission_cents": row.TotalCommissionCents,
				"total_negative_cents":   row.TotalNegativeCents,
				"total_payable_cents":    row.TotalPayableCents,
				"transaction_count":      row.TransactionCount,
				"updated_at":             now,
			}),
			Where: notPaidCondition(),
		}).
		Create(row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpsertBackfillPaid 写入历史已支付结算：待支付行转为已支付，已支付行不动
func (r *GormPayoutRepository) UpsertBackfillPaid(ctx context.Context, row *models.MonthlyPayout) (bool, error) {
	if row == nil {
		return false, nil
	}
	now := time.Now()
	if row.PaidAt == nil {
		row.PaidAt = &now
	}
	row.Status = constants.PayoutStatusPaid
	row.Source = constants.PayoutSourceBackfill
	row.UpdatedAt = now
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "month"}, {Name: "affiliate_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_commission_cents": row.TotalCommissionCents,
				"total_negative_cents":   row.TotalNegativeCents,
				"total_payable_cents":    row.TotalPayableCents,
				"transaction_count":      row.TransactionCount,
				"status":                 constants.PayoutStatusPaid,
				"source":                 constants.PayoutSourceBackfill,
				"paid_at":                row.PaidAt,
				"paid_by":                row.PaidBy,
				"updated_at":             now,
			}),
			Where: notPaidCondition(),
		}).
		Create(row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Get 获取单个结算行
func (r *GormPayoutRepository) Get(ctx context.Context, month string, affiliateID uint) (*models.MonthlyPayout, error) {
	var row models.MonthlyPayout
	if err := r.db.WithContext(ctx).
		Where("month = ? AND affiliate_id = ?", strings.TrimSpace(month), affiliateID).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListForUpdate 加锁获取指定月份与推广方的结算行
func (r *GormPayoutRepository) ListForUpdate(ctx context.Context, month string, affiliateIDs []uint) ([]models.MonthlyPayout, error) {
	if len(affiliateIDs) == 0 {
		return nil, nil
	}
	var rows []models.MonthlyPayout
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("month = ? AND affiliate_id IN ?", strings.TrimSpace(month), affiliateIDs).
		Order("affiliate_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkPaid 将结算行标记为已支付
func (r *GormPayoutRepository) MarkPaid(ctx context.Context, ids []uint, paidAt time.Time, paidBy string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&models.MonthlyPayout{}).
		Where("id IN ? AND status <> ?", ids, constants.PayoutStatusPaid).
		Updates(map[string]interface{}{
			"status":     constants.PayoutStatusPaid,
			"paid_at":    paidAt,
			"paid_by":    strings.TrimSpace(paidBy),
			"updated_at": paidAt,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// List 分页查询结算
func (r *GormPayoutRepository) List(ctx context.Context, filter PayoutListFilter) ([]models.MonthlyPayout, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.MonthlyPayout{})
	if month := strings.TrimSpace(filter.Month); month != "" {
		query = query.Where("month = ?", month)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if filter.AffiliateID > 0 {
		query = query.Where("affiliate_id = ?", filter.AffiliateID)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.MonthlyPayout
	if err := applyPagination(query.Order("month DESC, affiliate_id ASC"), filter.Page, filter.PageSize).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}
