package constants

// 佣金流水类型常量
const (
	TransactionTypeCommission = "commission"
	TransactionTypeRefund     = "refund"
	TransactionTypeDispute    = "dispute"
)

// 推广等级常量
const (
	AffiliateTierBase     = 1
	AffiliateTierSilver   = 2
	AffiliateTierGold     = 3
	AffiliateAliasMaxLive = 3
)

// 订阅状态常量
const (
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusUnpaid   = "unpaid"
)

// 月度结算状态常量
const (
	PayoutStatusPending = "pending"
	PayoutStatusPaid    = "paid"
)

// 月度结算来源常量
const (
	PayoutSourceAggregator = "aggregator"
	PayoutSourceBackfill   = "backfill"
)

// 事件入库状态常量
const (
	IngestionStatusPending   = "pending"
	IngestionStatusProcessed = "processed"
	IngestionStatusFailed    = "failed"
)

// 归因与流水来源常量
const (
	SourceWebhook         = "webhook"
	SourceIncrementalSync = "incremental_sync"
	SourceResync          = "resync"
	SourceBackfill        = "backfill"
	SourceLegacy          = "legacy"
)

// 同步运行类型常量
const (
	SyncKindIncremental = "incremental"
	SyncKindResync      = "resync"
	SyncKindBackfill    = "backfill"
)

// 同步运行状态常量
const (
	SyncStatusRunning   = "running"
	SyncStatusSucceeded = "succeeded"
	SyncStatusPartial   = "partial"
	SyncStatusFailed    = "failed"
	SyncStatusCanceled  = "canceled"
)

// 同步步骤常量
const (
	SyncStepCustomers     = "customers"
	SyncStepSubscriptions = "subscriptions"
	SyncStepInvoices      = "invoices"
	SyncStepRefunds       = "refunds"
	SyncStepDisputes      = "disputes"
	SyncStepTiers         = "tiers"
	SyncStepAffiliates    = "affiliates"
	SyncStepLinks         = "links"
	SyncStepPayouts       = "payouts"
)

// 触发来源常量
const (
	TriggerScheduler = "scheduler"
	TriggerCron      = "cron"
	TriggerCLI       = "cli"
)

// 队列常量
const (
	QueueDefault        = "default"
	QueueCritical       = "critical"
	TaskCommerceEvent   = "commerce:event"
	TaskSyncIncremental = "sync:incremental"
	TaskPayoutAggregate = "payout:aggregate"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "pl"
)

// 设置键常量
const (
	SettingKeyCommissionPolicy = "commission_policy"
)

// 币种常量
const (
	CurrencyDefault = "usd"
)

// 结算月份格式
const (
	PayoutMonthLayout = "2006-01"
)
