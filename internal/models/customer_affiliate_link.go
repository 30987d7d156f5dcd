package models

import "time"

// CustomerAffiliateLink 客户归因（首次归属，创建后不再变更）
type CustomerAffiliateLink struct {
	ID           uint      `gorm:"primarykey" json:"id"`                                      // 主键
	CustomerID   string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"customer_id"` // 支付平台客户ID
	AffiliateID  uint      `gorm:"not null;index" json:"affiliate_id"`                        // 归属推广方
	Source       string    `gorm:"type:varchar(32);not null;default:''" json:"source"`        // 创建路径
	MatchedToken string    `gorm:"type:varchar(64);not null;default:''" json:"matched_token"` // 命中的推广码或别名
	CreatedAt    time.Time `gorm:"index" json:"created_at"`                                   // 创建时间
}

// TableName 指定表名
func (CustomerAffiliateLink) TableName() string {
	return "customer_affiliate_links"
}
