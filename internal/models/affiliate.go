package models

import (
	"time"
)

// Affiliate 推广合作方
type Affiliate struct {
	ID                  uint      `gorm:"primarykey" json:"id"`                                 // 主键
	Code                string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`    // 推广码（大写存储）
	Name                string    `gorm:"type:varchar(120);not null;default:''" json:"name"`    // 名称
	Email               string    `gorm:"type:varchar(255);not null;default:''" json:"email"`   // 联系邮箱
	Tier                int       `gorm:"not null;default:1;index" json:"tier"`                 // 等级 1/2/3
	QualifyingSaleCount int64     `gorm:"not null;default:0" json:"qualifying_sale_count"`      // 有效成交订阅数
	Active              bool      `gorm:"not null;default:true;index" json:"active"`            // 是否启用
	PayoutDestination   JSON      `gorm:"type:json" json:"payout_destination"`                  // 结算账户（不透明键值）
	CreatedAt           time.Time `gorm:"index" json:"created_at"`                              // 创建时间
	UpdatedAt           time.Time `json:"updated_at"`                                           // 更新时间

	Aliases []AffiliateAlias `gorm:"foreignKey:AffiliateID" json:"aliases,omitempty"` // 别名列表
}

// TableName 指定表名
func (Affiliate) TableName() string {
	return "affiliates"
}
