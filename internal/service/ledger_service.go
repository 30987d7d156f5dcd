package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/partnerledger/internal/commerce"
	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/metrics"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/repository"

	"gorm.io/gorm"
)

// ApplyOutcome 账本处理结果
type ApplyOutcome string

const (
	OutcomeBooked            ApplyOutcome = "booked"
	OutcomeDuplicate         ApplyOutcome = "duplicate"
	OutcomeUnattributed      ApplyOutcome = "unattributed"
	OutcomeAffiliateInactive ApplyOutcome = "affiliate_inactive"
	OutcomeZeroAmount        ApplyOutcome = "zero_amount"
	OutcomeMissingOriginal   ApplyOutcome = "missing_original"
	OutcomeIgnored           ApplyOutcome = "ignored"
	OutcomeLinked            ApplyOutcome = "linked"
	OutcomeSynced            ApplyOutcome = "synced"
	OutcomeFailed            ApplyOutcome = "failed"
)

// ApplyOptions 账本处理参数
type ApplyOptions struct {
	Source string
	// SkipQualifyingSale 回填重放时不逐笔累加，由 ReconcileQualifyingSales 统一重建
	SkipQualifyingSale bool
}

func (o ApplyOptions) source() string {
	if source := strings.TrimSpace(o.Source); source != "" {
		return source
	}
	return constants.SourceWebhook
}

// LedgerService 佣金账本核心，四条入库路径共用
type LedgerService struct {
	ledgerRepo       repository.LedgerRepository
	subscriptionRepo repository.SubscriptionRepository
	affiliateRepo    repository.AffiliateRepository
	attribution      *AttributionService
	settings         *SettingService
	scheduler        *AvailabilityScheduler
	metrics          *metrics.Metrics
}

// NewLedgerService 创建账本服务
func NewLedgerService(
	ledgerRepo repository.LedgerRepository,
	subscriptionRepo repository.SubscriptionRepository,
	affiliateRepo repository.AffiliateRepository,
	attribution *AttributionService,
	settings *SettingService,
	scheduler *AvailabilityScheduler,
	m *metrics.Metrics,
) *LedgerService {
	if scheduler == nil {
		scheduler = DefaultAvailabilityScheduler()
	}
	return &LedgerService{
		ledgerRepo:       ledgerRepo,
		subscriptionRepo: subscriptionRepo,
		affiliateRepo:    affiliateRepo,
		attribution:      attribution,
		settings:         settings,
		scheduler:        scheduler,
		metrics:          m,
	}
}

// Scheduler 返回可提现时间计算器
func (s *LedgerService) Scheduler() *AvailabilityScheduler {
	return s.scheduler
}

// ApplyEvent 按事件类型分发
func (s *LedgerService) ApplyEvent(ctx context.Context, event commerce.Event, opts ApplyOptions) (ApplyOutcome, error) {
	switch event.Kind {
	case commerce.KindCustomer:
		if event.Customer != nil {
			return s.ApplyCustomer(ctx, *event.Customer, opts)
		}
	case commerce.KindSubscription:
		if event.Subscription != nil {
			return s.ApplySubscription(ctx, *event.Subscription, opts)
		}
	case commerce.KindInvoicePaid:
		if event.Invoice != nil {
			return s.ApplyInvoicePaid(ctx, *event.Invoice, opts)
		}
	case commerce.KindRefund:
		if event.Refund != nil {
			return s.ApplyRefund(ctx, *event.Refund, opts)
		}
	case commerce.KindDispute:
		if event.Dispute != nil {
			return s.ApplyDispute(ctx, *event.Dispute, opts)
		}
	}
	s.observe(commerce.KindIgnored, OutcomeIgnored)
	return OutcomeIgnored, nil
}

// ApplyCustomer 仅做归因，不产生流水
func (s *LedgerService) ApplyCustomer(ctx context.Context, customer commerce.Customer, opts ApplyOptions) (ApplyOutcome, error) {
	result, err := s.attribution.Resolve(ctx, customer.ID, []map[string]string{customer.Metadata}, opts.source())
	if err != nil {
		return "", err
	}
	outcome := OutcomeUnattributed
	if result != nil {
		outcome = OutcomeLinked
	}
	s.observe(commerce.KindCustomer, outcome)
	return outcome, nil
}

// ApplySubscription 归因并写入订阅镜像
func (s *LedgerService) ApplySubscription(ctx context.Context, sub commerce.Subscription, opts ApplyOptions) (ApplyOutcome, error) {
	if strings.TrimSpace(sub.ID) == "" {
		return "", fmt.Errorf("%w: subscription id is empty", ErrInvalidInput)
	}
	result, err := s.attribution.Resolve(ctx, sub.CustomerID, []map[string]string{sub.Metadata, sub.CustomerMetadata}, opts.source())
	if err != nil {
		return "", err
	}
	row := &models.Subscription{
		ExternalID:       sub.ID,
		CustomerID:       sub.CustomerID,
		Status:           normalizeSubscriptionStatus(sub.Status),
		PlanAmountCents:  sub.PlanAmountCents,
		Currency:         normalizeCurrency(sub.Currency),
		TrialStart:       utcPtr(sub.TrialStart),
		TrialEnd:         utcPtr(sub.TrialEnd),
		CurrentPeriodEnd: utcPtr(sub.CurrentPeriodEnd),
		CanceledAt:       utcPtr(sub.CanceledAt),
	}
	if result != nil {
		affiliateID := result.AffiliateID
		row.AffiliateID = &affiliateID
	}
	if err := s.subscriptionRepo.Upsert(ctx, row); err != nil {
		return "", err
	}
	s.observe(commerce.KindSubscription, OutcomeSynced)
	return OutcomeSynced, nil
}

// ApplyInvoicePaid 为已支付账单入账佣金
func (s *LedgerService) ApplyInvoicePaid(ctx context.Context, inv commerce.Invoice, opts ApplyOptions) (ApplyOutcome, error) {
	if strings.TrimSpace(inv.ID) == "" {
		return "", fmt.Errorf("%w: invoice id is empty", ErrInvalidInput)
	}
	if !inv.Paid {
		s.observe(commerce.KindInvoicePaid, OutcomeIgnored)
		return OutcomeIgnored, nil
	}
	source := opts.source()
	candidates := []map[string]string{inv.Metadata, inv.SubscriptionMetadata, inv.CustomerMetadata}
	attribution, err := s.attribution.Resolve(ctx, inv.CustomerID, candidates, source)
	if err != nil {
		return "", err
	}
	if attribution == nil {
		s.observe(commerce.KindInvoicePaid, OutcomeUnattributed)
		return OutcomeUnattributed, nil
	}
	affiliate, err := s.affiliateRepo.GetByID(ctx, attribution.AffiliateID)
	if err != nil {
		return "", err
	}
	if affiliate == nil || !affiliate.Active {
		logger.Infow("ledger_affiliate_inactive", "invoice_id", inv.ID, "affiliate_id", attribution.AffiliateID)
		s.observe(commerce.KindInvoicePaid, OutcomeAffiliateInactive)
		return OutcomeAffiliateInactive, nil
	}
	if inv.AmountPaidCents <= 0 {
		s.observe(commerce.KindInvoicePaid, OutcomeZeroAmount)
		return OutcomeZeroAmount, nil
	}

	policy, err := s.settings.GetCommissionPolicy(ctx)
	if err != nil {
		return "", err
	}
	percent := policy.PercentForTier(affiliate.Tier)
	paidAt := eventTime(inv.PaidAt)
	row := &models.CommissionTransaction{
		AffiliateID:           affiliate.ID,
		SubscriptionID:        strings.TrimSpace(inv.SubscriptionID),
		CustomerID:            inv.CustomerID,
		ExternalID:            inv.ID,
		ChargeID:              strings.TrimSpace(inv.ChargeID),
		Type:                  constants.TransactionTypeCommission,
		GrossAmountCents:      inv.AmountPaidCents,
		CommissionPercent:     models.NewMoneyFromDecimal(percent),
		CommissionAmountCents: CommissionCents(inv.AmountPaidCents, percent),
		Currency:              normalizeCurrency(inv.Currency),
		PaidAt:                paidAt,
		AvailableAt:           s.scheduler.AvailableAt(paidAt).UTC(),
		Description:           truncateText(inv.Description, 255),
		Source:                source,
	}

	created := false
	incremented := false
	err = s.ledgerRepo.Transaction(ctx, func(tx *gorm.DB) error {
		if row.SubscriptionID != "" {
			subRepo := s.subscriptionRepo.WithTx(tx)
			affiliateID := affiliate.ID
			if err := subRepo.EnsureExists(ctx, &models.Subscription{
				ExternalID:      row.SubscriptionID,
				CustomerID:      inv.CustomerID,
				AffiliateID:     &affiliateID,
				Status:          constants.SubscriptionStatusActive,
				PlanAmountCents: inv.AmountPaidCents,
				Currency:        row.Currency,
			}); err != nil {
				return err
			}
			if _, err := subRepo.GetByExternalIDForUpdate(ctx, row.SubscriptionID); err != nil {
				return err
			}
		}
		var err error
		created, err = s.ledgerRepo.WithTx(tx).CreateIfAbsent(ctx, row)
		if err != nil || !created || opts.SkipQualifyingSale {
			return err
		}
		incremented, err = s.affiliateRepo.WithTx(tx).IncrementQualifyingSale(ctx, affiliate.ID, row.SubscriptionID)
		return err
	})
	if err != nil {
		return "", err
	}
	if !created {
		s.observe(commerce.KindInvoicePaid, OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}

	logger.Infow("ledger_commission_booked",
		"invoice_id", inv.ID,
		"affiliate_id", affiliate.ID,
		"tier", affiliate.Tier,
		"gross_cents", row.GrossAmountCents,
		"commission_cents", row.CommissionAmountCents,
		"qualifying_sale", incremented,
		"source", source,
	)
	s.observe(commerce.KindInvoicePaid, OutcomeBooked)
	s.metrics.AddCommissionCents(row.Type, row.CommissionAmountCents)
	return OutcomeBooked, nil
}

// ApplyRefund 按原始佣金比例冲正退款
func (s *LedgerService) ApplyRefund(ctx context.Context, refund commerce.Refund, opts ApplyOptions) (ApplyOutcome, error) {
	return s.applyReversal(ctx, reversalInput{
		kind:        commerce.KindRefund,
		txType:      constants.TransactionTypeRefund,
		flag:        repository.SubscriptionFlagRefund,
		id:          refund.ID,
		chargeID:    refund.ChargeID,
		invoiceID:   refund.InvoiceID,
		amountCents: refund.AmountCents,
		currency:    refund.Currency,
		created:     refund.Created,
	}, opts)
}

// ApplyDispute 按原始佣金比例冲正争议
func (s *LedgerService) ApplyDispute(ctx context.Context, dispute commerce.Dispute, opts ApplyOptions) (ApplyOutcome, error) {
	return s.applyReversal(ctx, reversalInput{
		kind:        commerce.KindDispute,
		txType:      constants.TransactionTypeDispute,
		flag:        repository.SubscriptionFlagDispute,
		id:          dispute.ID,
		chargeID:    dispute.ChargeID,
		invoiceID:   dispute.InvoiceID,
		amountCents: dispute.AmountCents,
		currency:    dispute.Currency,
		created:     dispute.Created,
	}, opts)
}

type reversalInput struct {
	kind        commerce.EventKind
	txType      string
	flag        string
	id          string
	chargeID    string
	invoiceID   string
	amountCents int64
	currency    string
	created     time.Time
}

func (s *LedgerService) applyReversal(ctx context.Context, in reversalInput, opts ApplyOptions) (ApplyOutcome, error) {
	chargeID := strings.TrimSpace(in.chargeID)
	externalID := chargeID
	if externalID == "" {
		externalID = strings.TrimSpace(in.id)
	}
	if externalID == "" {
		return "", fmt.Errorf("%w: %s without charge id", ErrInvalidInput, in.txType)
	}
	original, err := s.ledgerRepo.FindOriginalCommission(ctx, chargeID, strings.TrimSpace(in.invoiceID))
	if err != nil {
		return "", err
	}
	if original == nil {
		logger.Debugw("ledger_reversal_missing_original",
			"type", in.txType,
			"charge_id", chargeID,
			"invoice_id", in.invoiceID,
		)
		s.observe(in.kind, OutcomeMissingOriginal)
		return OutcomeMissingOriginal, nil
	}
	amount := in.amountCents
	if amount > original.GrossAmountCents {
		amount = original.GrossAmountCents
	}
	if amount <= 0 {
		s.observe(in.kind, OutcomeZeroAmount)
		return OutcomeZeroAmount, nil
	}

	paidAt := eventTime(in.created)
	currency := normalizeCurrency(in.currency)
	if strings.TrimSpace(in.currency) == "" {
		currency = original.Currency
	}
	source := opts.source()
	row := &models.CommissionTransaction{
		AffiliateID:           original.AffiliateID,
		SubscriptionID:        original.SubscriptionID,
		CustomerID:            original.CustomerID,
		ExternalID:            externalID,
		ChargeID:              chargeID,
		Type:                  in.txType,
		GrossAmountCents:      -amount,
		CommissionPercent:     original.CommissionPercent,
		CommissionAmountCents: -CommissionCents(amount, original.CommissionPercent.Decimal),
		Currency:              currency,
		PaidAt:                paidAt,
		AvailableAt:           s.scheduler.AvailableAt(paidAt).UTC(),
		Description:           fmt.Sprintf("%s of %s", in.txType, original.ExternalID),
		Source:                source,
	}

	created := false
	err = s.ledgerRepo.Transaction(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = s.ledgerRepo.WithTx(tx).CreateIfAbsent(ctx, row)
		if err != nil {
			return err
		}
		if original.SubscriptionID == "" {
			return nil
		}
		_, err = s.subscriptionRepo.WithTx(tx).SetFlag(ctx, original.SubscriptionID, in.flag)
		return err
	})
	if err != nil {
		return "", err
	}
	if !created {
		s.observe(in.kind, OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}
	logger.Infow("ledger_reversal_booked",
		"type", in.txType,
		"charge_id", chargeID,
		"original_id", original.ExternalID,
		"affiliate_id", original.AffiliateID,
		"commission_cents", row.CommissionAmountCents,
		"source", source,
	)
	s.observe(in.kind, OutcomeBooked)
	s.metrics.AddCommissionCents(row.Type, row.CommissionAmountCents)
	return OutcomeBooked, nil
}

func (s *LedgerService) observe(kind commerce.EventKind, outcome ApplyOutcome) {
	s.metrics.ObserveLedgerOutcome(string(kind), string(outcome))
}

func eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	value := t.UTC()
	return &value
}

func normalizeCurrency(currency string) string {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return constants.CurrencyDefault
	}
	return currency
}

func normalizeSubscriptionStatus(status string) string {
	switch value := strings.ToLower(strings.TrimSpace(status)); value {
	case constants.SubscriptionStatusTrialing,
		constants.SubscriptionStatusActive,
		constants.SubscriptionStatusPastDue,
		constants.SubscriptionStatusCanceled,
		constants.SubscriptionStatusUnpaid:
		return value
	case "incomplete_expired":
		return constants.SubscriptionStatusCanceled
	case "incomplete", "paused":
		return constants.SubscriptionStatusUnpaid
	default:
		return constants.SubscriptionStatusActive
	}
}

func truncateText(value string, limit int) string {
	runes := []rune(strings.TrimSpace(value))
	if limit <= 0 || len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit])
}
