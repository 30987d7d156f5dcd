package models

import "time"

// Subscription 订阅镜像
type Subscription struct {
	ID               uint       `gorm:"primarykey" json:"id"`                                      // 主键
	ExternalID       string     `gorm:"type:varchar(128);not null;uniqueIndex" json:"external_id"` // 支付平台订阅ID
	CustomerID       string     `gorm:"type:varchar(128);not null;index" json:"customer_id"`       // 客户ID
	AffiliateID      *uint      `gorm:"index" json:"affiliate_id,omitempty"`                       // 归属推广方（一经写入不再覆盖）
	Status           string     `gorm:"type:varchar(32);not null;index" json:"status"`             // 订阅状态
	PlanAmountCents  int64      `gorm:"not null;default:0" json:"plan_amount_cents"`               // 套餐金额（分）
	Currency         string     `gorm:"type:varchar(8);not null;default:''" json:"currency"`       // 币种
	TrialStart       *time.Time `json:"trial_start,omitempty"`                                     // 试用开始
	TrialEnd         *time.Time `json:"trial_end,omitempty"`                                       // 试用结束
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`                              // 当前周期结束
	CanceledAt       *time.Time `json:"canceled_at,omitempty"`                                     // 取消时间
	HasRefund        bool       `gorm:"not null;default:false" json:"has_refund"`                  // 是否发生退款
	HasDispute       bool       `gorm:"not null;default:false" json:"has_dispute"`                 // 是否发生争议
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`                                   // 创建时间
	UpdatedAt        time.Time  `json:"updated_at"`                                                // 更新时间
}

// TableName 指定表名
func (Subscription) TableName() string {
	return "subscriptions"
}
