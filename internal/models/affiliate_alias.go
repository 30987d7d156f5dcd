package models

import "time"

// AffiliateAlias 推广码别名
// 说明：revoked_at 为空表示生效中；撤销后的别名不可复用。
type AffiliateAlias struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	Token       string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"token"`
	AffiliateID uint       `gorm:"not null;index" json:"affiliate_id"`
	RevokedAt   *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName 指定表名
func (AffiliateAlias) TableName() string {
	return "affiliate_aliases"
}

// Live 是否生效中
func (a AffiliateAlias) Live() bool {
	return a.RevokedAt == nil
}
