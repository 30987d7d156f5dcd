package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/partnerledger/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 订阅一次性标记列
const (
	SubscriptionFlagRefund  = "has_refund"
	SubscriptionFlagDispute = "has_dispute"
)

// SubscriptionRepository 订阅镜像数据访问接口
type SubscriptionRepository interface {
	WithTx(tx *gorm.DB) SubscriptionRepository
	GetByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	GetByExternalIDForUpdate(ctx context.Context, externalID string) (*models.Subscription, error)
	Upsert(ctx context.Context, sub *models.Subscription) error
	EnsureExists(ctx context.Context, sub *models.Subscription) error
	SetFlag(ctx context.Context, externalID, flag string) (bool, error)
}

// GormSubscriptionRepository GORM 订阅仓储
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository 创建订阅仓储
func NewSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

// WithTx 绑定事务
func (r *GormSubscriptionRepository) WithTx(tx *gorm.DB) SubscriptionRepository {
	if tx == nil {
		return r
	}
	return &GormSubscriptionRepository{db: tx}
}

// GetByExternalID 按外部ID获取订阅
func (r *GormSubscriptionRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	return r.first(r.db.WithContext(ctx), externalID)
}

// GetByExternalIDForUpdate 加锁获取订阅
func (r *GormSubscriptionRepository) GetByExternalIDForUpdate(ctx context.Context, externalID string) (*models.Subscription, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), externalID)
}

func (r *GormSubscriptionRepository) first(query *gorm.DB, externalID string) (*models.Subscription, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := query.Where("external_id = ?", externalID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// Upsert 写入订阅：状态与时间以最后一次为准，归属推广方一经写入不再覆盖
func (r *GormSubscriptionRepository) Upsert(ctx context.Context, sub *models.Subscription) error {
	if sub == nil || strings.TrimSpace(sub.ExternalID) == "" {
		return nil
	}
	now := time.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"customer_id":        sub.CustomerID,
				"status":             sub.Status,
				"plan_amount_cents":  sub.PlanAmountCents,
				"currency":           sub.Currency,
				"trial_start":        sub.TrialStart,
				"trial_end":          sub.TrialEnd,
				"current_period_end": sub.CurrentPeriodEnd,
				"canceled_at":        sub.CanceledAt,
				"updated_at":         now,
				"affiliate_id":       gorm.Expr("COALESCE(subscriptions.affiliate_id, excluded.affiliate_id)"),
			}),
		}).
		Create(sub).Error
}

// EnsureExists 订阅不存在时插入占位记录
func (r *GormSubscriptionRepository) EnsureExists(ctx context.Context, sub *models.Subscription) error {
	if sub == nil || strings.TrimSpace(sub.ExternalID) == "" {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(sub).Error
}

// SetFlag 将退款/争议标记置为 true（仅从 false 变更一次）
func (r *GormSubscriptionRepository) SetFlag(ctx context.Context, externalID, flag string) (bool, error) {
	if strings.TrimSpace(externalID) == "" {
		return false, nil
	}
	if flag != SubscriptionFlagRefund && flag != SubscriptionFlagDispute {
		return false, errors.New("unsupported subscription flag: " + flag)
	}
	result := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("external_id = ? AND "+flag+" = ?", externalID, false).
		Updates(map[string]interface{}{
			flag:         true,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
