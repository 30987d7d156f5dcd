package models

import "time"

// SyncRun 同步运行日志
// 说明：记录增量同步、重同步与历史回填的窗口、计数与错误摘要。
type SyncRun struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	RunID        string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"run_id"`
	Kind         string     `gorm:"type:varchar(16);not null;index" json:"kind"`
	WindowDays   int        `gorm:"not null;default:0" json:"window_days"`
	WindowStart  *time.Time `json:"window_start,omitempty"`
	WindowEnd    *time.Time `json:"window_end,omitempty"`
	TriggeredBy  string     `gorm:"type:varchar(120);not null;default:''" json:"triggered_by"`
	Status       string     `gorm:"type:varchar(16);not null;index" json:"status"`
	Counts       JSON       `gorm:"type:json" json:"counts"`
	ErrorCount   int        `gorm:"not null;default:0" json:"error_count"`
	ErrorMessage string     `gorm:"type:text" json:"error_message"`
	StartedAt    time.Time  `gorm:"index" json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// TableName 指定表名
func (SyncRun) TableName() string {
	return "sync_runs"
}
