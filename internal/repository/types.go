package repository

import "time"

// AffiliateListFilter 推广方列表过滤条件
type AffiliateListFilter struct {
	Page         int
	PageSize     int
	Keyword      string
	Tier         int
	Active       *bool
	PayoutMethod string
}

// LinkListFilter 客户归因列表过滤条件
type LinkListFilter struct {
	Page        int
	PageSize    int
	AffiliateID uint
	Source      string
}

// TransactionListFilter 佣金流水过滤条件
type TransactionListFilter struct {
	Page           int
	PageSize       int
	AffiliateID    uint
	Type           string
	SubscriptionID string
	CustomerID     string
	AvailableFrom  *time.Time
	AvailableTo    *time.Time
}

// PayoutListFilter 月度结算过滤条件
type PayoutListFilter struct {
	Page        int
	PageSize    int
	Month       string
	Status      string
	AffiliateID uint
}

// IngestionEventListFilter 事件入库过滤条件
type IngestionEventListFilter struct {
	Page      int
	PageSize  int
	Status    string
	EventType string
}

// SyncRunListFilter 同步运行过滤条件
type SyncRunListFilter struct {
	Page     int
	PageSize int
	Kind     string
	Status   string
}

// AffiliateLedgerAggregate 按推广方汇总的流水
type AffiliateLedgerAggregate struct {
	AffiliateID     uint  `gorm:"column:affiliate_id"`
	CommissionCents int64 `gorm:"column:commission_cents"`
	NegativeCents   int64 `gorm:"column:negative_cents"`
	TxCount         int64 `gorm:"column:tx_count"`
}

// OperatorAuditLogListFilter 审计日志过滤条件
type OperatorAuditLogListFilter struct {
	Page        int
	PageSize    int
	OperatorID  string
	Action      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}
