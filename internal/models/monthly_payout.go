package models

import "time"

// MonthlyPayout 月度结算汇总
type MonthlyPayout struct {
	ID                   uint       `gorm:"primarykey" json:"id"`                                                                 // 主键
	Month                string     `gorm:"type:varchar(7);not null;uniqueIndex:idx_monthly_payout_month_affiliate" json:"month"` // 结算月份 YYYY-MM
	AffiliateID          uint       `gorm:"not null;uniqueIndex:idx_monthly_payout_month_affiliate;index" json:"affiliate_id"`    // 推广方
	TotalCommissionCents int64      `gorm:"not null;default:0" json:"total_commission_cents"`                                     // 佣金合计
	TotalNegativeCents   int64      `gorm:"not null;default:0" json:"total_negative_cents"`                                       // 冲正合计（绝对值）
	TotalPayableCents    int64      `gorm:"not null;default:0" json:"total_payable_cents"`                                        // 应付金额
	TransactionCount     int64      `gorm:"not null;default:0" json:"transaction_count"`                                          // 流水笔数
	Status               string     `gorm:"type:varchar(16);not null;index" json:"status"`                                        // 状态
	PaidAt               *time.Time `json:"paid_at,omitempty"`                                                                    // 支付时间
	PaidBy               string     `gorm:"type:varchar(120);not null;default:''" json:"paid_by"`                                 // 操作人
	Source               string     `gorm:"type:varchar(16);not null;default:'aggregator'" json:"source"`                         // 来源
	CreatedAt            time.Time  `json:"created_at"`                                                                           // 创建时间
	UpdatedAt            time.Time  `json:"updated_at"`                                                                           // 更新时间
}

// TableName 指定表名
func (MonthlyPayout) TableName() string {
	return "monthly_payouts"
}
