package models

import "time"

// IngestionEvent 实时事件入库记录
type IngestionEvent struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	EventID     string     `gorm:"type:varchar(128);not null;uniqueIndex" json:"event_id"`
	Provider    string     `gorm:"type:varchar(32);not null;default:''" json:"provider"`
	EventType   string     `gorm:"type:varchar(64);not null;default:'';index" json:"event_type"`
	Status      string     `gorm:"type:varchar(16);not null;index" json:"status"`
	Payload     string     `gorm:"type:text" json:"-"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	LastError   string     `gorm:"type:text" json:"last_error"`
	ReceivedAt  time.Time  `gorm:"index" json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (IngestionEvent) TableName() string {
	return "ingestion_events"
}
