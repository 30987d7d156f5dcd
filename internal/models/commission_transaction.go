package models

import "time"

// CommissionTransaction 佣金流水（创建后不可修改）
type CommissionTransaction struct {
	ID                    uint      `gorm:"primarykey" json:"id"`                                                                            // 主键
	AffiliateID           uint      `gorm:"not null;index" json:"affiliate_id"`                                                              // 推广方
	SubscriptionID        string    `gorm:"type:varchar(128);not null;default:'';index" json:"subscription_id"`                              // 订阅外部ID
	CustomerID            string    `gorm:"type:varchar(128);not null;default:'';index" json:"customer_id"`                                  // 客户ID
	ExternalID            string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_commission_tx_external_type" json:"external_id"`       // 账单ID或扣款ID
	ChargeID              string    `gorm:"type:varchar(128);not null;default:'';index" json:"charge_id"`                                    // 扣款ID
	Type                  string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_commission_tx_external_type;index" json:"type"`         // 流水类型
	GrossAmountCents      int64     `gorm:"not null" json:"gross_amount_cents"`                                                              // 原始金额（分，带符号）
	CommissionPercent     Money     `gorm:"type:decimal(10,2);not null;default:0" json:"commission_percent"`                                 // 佣金比例快照
	CommissionAmountCents int64     `gorm:"not null" json:"commission_amount_cents"`                                                         // 佣金金额（分，带符号）
	Currency              string    `gorm:"type:varchar(8);not null;default:''" json:"currency"`                                             // 币种
	PaidAt                time.Time `gorm:"not null;index" json:"paid_at"`                                                                   // 支付时间
	AvailableAt           time.Time `gorm:"not null;index" json:"available_at"`                                                              // 可结算时间
	Description           string    `gorm:"type:varchar(255);not null;default:''" json:"description"`                                        // 描述
	Source                string    `gorm:"type:varchar(32);not null;default:''" json:"source"`                                              // 入账路径
	CreatedAt             time.Time `gorm:"index" json:"created_at"`                                                                         // 创建时间
}

// TableName 指定表名
func (CommissionTransaction) TableName() string {
	return "commission_transactions"
}
