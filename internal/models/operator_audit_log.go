package models

import "time"

// OperatorAuditLog 运营操作审计日志
// 说明：记录标记支付、重同步、回填、策略修改等后台写操作。
type OperatorAuditLog struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	OperatorID string    `gorm:"type:varchar(120);index;not null" json:"operator_id"`
	Action     string    `gorm:"type:varchar(100);index;not null" json:"action"`
	Object     string    `gorm:"type:varchar(255);not null;default:''" json:"object"`
	Method     string    `gorm:"type:varchar(20);not null;default:''" json:"method"`
	RequestID  string    `gorm:"type:varchar(64);index;not null;default:''" json:"request_id"`
	DetailJSON JSON      `gorm:"type:json" json:"detail"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (OperatorAuditLog) TableName() string {
	return "operator_audit_logs"
}
