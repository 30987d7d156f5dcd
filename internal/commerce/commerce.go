// Package commerce 定义与具体支付平台无关的商业事件与拉取接口。
package commerce

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSignatureInvalid = errors.New("commerce signature invalid")
	ErrPayloadInvalid   = errors.New("commerce payload invalid")
	ErrRequestFailed    = errors.New("commerce request failed")
	ErrConfigInvalid    = errors.New("commerce config invalid")
)

// EventKind 事件归类
type EventKind string

const (
	KindCustomer     EventKind = "customer"
	KindSubscription EventKind = "subscription"
	KindInvoicePaid  EventKind = "invoice_paid"
	KindRefund       EventKind = "refund"
	KindDispute      EventKind = "dispute"
	KindIgnored      EventKind = "ignored"
)

// Customer 客户
type Customer struct {
	ID       string
	Email    string
	Metadata map[string]string
	Created  time.Time
}

// Subscription 订阅
type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	PlanAmountCents  int64
	Currency         string
	TrialStart       *time.Time
	TrialEnd         *time.Time
	CurrentPeriodEnd *time.Time
	CanceledAt       *time.Time
	Metadata         map[string]string
	CustomerMetadata map[string]string
	Created          time.Time
}

// Invoice 账单（已支付的账单会产生佣金）
type Invoice struct {
	ID                   string
	CustomerID           string
	SubscriptionID       string
	ChargeID             string
	AmountPaidCents      int64
	Currency             string
	Paid                 bool
	PaidAt               time.Time
	Description          string
	Metadata             map[string]string
	SubscriptionMetadata map[string]string
	CustomerMetadata     map[string]string
}

// Refund 退款（按扣款ID聚合）
type Refund struct {
	ID          string
	ChargeID    string
	InvoiceID   string
	AmountCents int64
	Currency    string
	Created     time.Time
}

// Dispute 争议
type Dispute struct {
	ID          string
	ChargeID    string
	InvoiceID   string
	AmountCents int64
	Currency    string
	Created     time.Time
}

// Event 统一事件
type Event struct {
	ID           string
	Type         string
	Kind         EventKind
	Created      time.Time
	Customer     *Customer
	Subscription *Subscription
	Invoice      *Invoice
	Refund       *Refund
	Dispute      *Dispute
}

// ListParams 拉取参数，时间窗为 [CreatedGTE, CreatedLT)
type ListParams struct {
	CreatedGTE    time.Time
	CreatedLT     time.Time
	PageSize      int
	StartingAfter string
}

// Page 分页结果
type Page[T any] struct {
	Items      []T
	HasMore    bool
	NextCursor string
}

// Provider 支付平台适配器
type Provider interface {
	Name() string
	VerifyWebhook(headers map[string]string, body []byte, now time.Time) (*Event, error)
	ParseEvent(body []byte) (*Event, error)
	ListCustomers(ctx context.Context, params ListParams) (Page[Customer], error)
	ListSubscriptions(ctx context.Context, params ListParams) (Page[Subscription], error)
	ListInvoices(ctx context.Context, params ListParams) (Page[Invoice], error)
	ListRefunds(ctx context.Context, params ListParams) (Page[Refund], error)
	ListDisputes(ctx context.Context, params ListParams) (Page[Dispute], error)
}
