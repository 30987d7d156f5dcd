package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/partnerledger/internal/commerce"
	"github.com/partnerledger/internal/commerce/stripe"
	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/models"
)

func newLedgerTestInvoice(id, customerID, subID string, amount int64, paidAt time.Time, metadata map[string]string) commerce.Invoice {
	return commerce.Invoice{
		ID:              id,
		CustomerID:      customerID,
		SubscriptionID:  subID,
		ChargeID:        "ch_" + id,
		AmountPaidCents: amount,
		Currency:        "USD",
		Paid:            true,
		PaidAt:          paidAt,
		Metadata:        metadata,
	}
}

func TestLedgerEndToEndCommissionAndFullRefund(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx := context.Background()
	affiliate := createServiceTestAffiliate(t, env.db, "AB12", constants.AffiliateTierBase, true)
	ny := env.ledger.Scheduler().Location()
	paidAt := time.Date(2024, 3, 10, 15, 0, 0, 0, ny)

	outcome, err := env.ledger.ApplyEvent(ctx, commerce.Event{
		Kind:    commerce.KindInvoicePaid,
		Invoice: ptrInvoice(newLedgerTestInvoice("in_1", "cus_C", "sub_1", 10000, paidAt, map[string]string{"referral": "AB12"})),
	}, ApplyOptions{Source: constants.SourceWebhook})
	if err != nil {
		t.Fatalf("apply invoice failed: %v", err)
	}
	if outcome != OutcomeBooked {
		t.Fatalf("expected booked, got %s", outcome)
	}

	var commission models.CommissionTransaction
	if err := env.db.Where("external_id = ? AND type = ?", "in_1", constants.TransactionTypeCommission).First(&commission).Error; err != nil {
		t.Fatalf("load commission failed: %v", err)
	}
	if commission.AffiliateID != affiliate.ID || commission.CommissionAmountCents != 3000 || commission.GrossAmountCents != 10000 {
		t.Fatalf("unexpected commission: %+v", commission)
	}
	wantAvailable := time.Date(2024, 4, 5, 12, 0, 0, 0, ny)
	if !commission.AvailableAt.Equal(wantAvailable) {
		t.Fatalf("expected available at %s, got %s", wantAvailable, commission.AvailableAt)
	}
	if commission.Currency != "usd" {
		t.Fatalf("expected normalized currency, got %s", commission.Currency)
	}

	outcome, err = env.ledger.ApplyEvent(ctx, commerce.Event{
		Kind: commerce.KindRefund,
		Refund: &commerce.Refund{
			ID:          "re_1",
			ChargeID:    "ch_in_1",
			AmountCents: 10000,
			Currency:    "usd",
			Created:     paidAt.AddDate(0, 0, 3),
		},
	}, ApplyOptions{Source: constants.SourceWebhook})
	if err != nil {
		t.Fatalf("apply refund failed: %v", err)
	}
	if outcome != OutcomeBooked {
		t.Fatalf("expected refund booked, got %s", outcome)
	}

	var refund models.CommissionTransaction
	if err := env.db.Where("external_id = ? AND type = ?", "ch_in_1", constants.TransactionTypeRefund).First(&refund).Error; err != nil {
		t.Fatalf("load refund failed: %v", err)
	}
	if refund.CommissionAmountCents != -3000 || refund.GrossAmountCents != -10000 {
		t.Fatalf("unexpected refund amounts: %+v", refund)
	}
	if !refund.CommissionPercent.Equal(commission.CommissionPercent.Decimal) {
		t.Fatalf("refund must inherit original percent, got %s", refund.CommissionPercent.String())
	}

	var sub models.Subscription
	if err := env.db.Where("external_id = ?", "sub_1").First(&sub).Error; err != nil {
		t.Fatalf("load subscription failed: %v", err)
	}
	if !sub.HasRefund || sub.HasDispute {
		t.Fatalf("expected has_refund only, got %+v", sub)
	}
	if sub.AffiliateID == nil || *sub.AffiliateID != affiliate.ID {
		t.Fatalf("expected subscription attributed to affiliate, got %+v", sub.AffiliateID)
	}
	if got := countServiceTestTransactions(t, env.db, constants.TransactionTypeCommission); got != 1 {
		t.Fatalf("expected one commission, got %d", got)
	}
	if got := countServiceTestTransactions(t, env.db, constants.TransactionTypeRefund); got != 1 {
		t.Fatalf("expected one refund, got %d", got)
	}
}

func TestLedgerInvoiceIsIdempotentAcrossSources(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx := context.Background()
	affiliate := createServiceTestAffiliate(t, env.db, "IDEM", constants.AffiliateTierBase, true)
	inv := newLedgerTestInvoice("in_dup", "cus_dup", "sub_dup", 5000, time.Now(), map[string]string{"ref": "IDEM"})

	for i, source := range []string{constants.SourceWebhook, constants.SourceIncrementalSync, constants.SourceResync} {
		outcome, err := env.ledger.ApplyInvoicePaid(ctx, inv, ApplyOptions{Source: source})
		if err != nil {
			t.Fatalf("apply %s failed: %v", source, err)
		}
		want := OutcomeDuplicate
		if i == 0 {
			want = OutcomeBooked
		}
		if outcome != want {
			t.Fatalf("source %s: expected %s, got %s", source, want, outcome)
		}
	}
	if got := countServiceTestTransactions(t, env.db, constants.TransactionTypeCommission); got != 1 {
		t.Fatalf("expected one commission row, got %d", got)
	}
	if got := loadServiceTestAffiliate(t, env.db, affiliate.ID).QualifyingSaleCount; got != 1 {
		t.Fatalf("expected qualifying count 1, got %d", got)
	}
}

func TestLedgerQualifyingSaleCountsFirstPaymentOnly(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx := context.Background()
	affiliate := createServiceTestAffiliate(t, env.db, "RENEW", constants.AffiliateTierBase, true)
	meta := map[string]string{"referral": "RENEW"}

	for i, id := range []string{"in_a", "in_b", "in_c"} {
		paidAt := time.Date(2024, time.Month(i+1), 3, 12, 0, 0, 0, time.UTC)
		if _, err := env.ledger.ApplyInvoicePaid(ctx, newLedgerTestInvoice(id, "cus_r", "sub_r", 2000, paidAt, meta), ApplyOptions{}); err != nil {
			t.Fatalf("apply %s failed: %v", id, err)
		}
	}
	if _, err := env.ledger.ApplyInvoicePaid(ctx, newLedgerTestInvoice("in_other", "cus_r", "sub_other", 2000, time.Now(), meta), ApplyOptions{}); err != nil {
		t.Fatalf("apply second subscription failed: %v", err)
	}
	if got := loadServiceTestAffiliate(t, env.db, affiliate.ID).QualifyingSaleCount; got != 2 {
		t.Fatalf("expected 2 qualifying sales, got %d", got)
	}
}

func TestLedgerInvoiceSkipOutcomes(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx := context.Background()
	createServiceTestAffiliate(t, env.db, "OFF1", constants.AffiliateTierBase, false)
	createServiceTestAffiliate(t, env.db, "ZERO1", constants.AffiliateTierBase, true)

	outcome, err := env.ledger.ApplyInvoicePaid(ctx, newLedgerTestInvoice("in_none", "cus_none", "sub_none", 1000, time.Now(), nil), ApplyOptions{})
	if err != nil || outcome != OutcomeUnattributed {
		t.Fatalf("expected unattributed, got %s err=%v", outcome, err)
	}

	// 停用推广方在归因阶段即不匹配
	outcome, err = env.ledger.ApplyInvoicePaid(ctx, newLedgerTestInvoice("in_off", "cus_off", "sub_off", 1000, time.Now(), map[string]string{"ref": "OFF1"}), ApplyOptions{})
	if err != nil || outcome != OutcomeUnattributed {
		t.Fatalf("expected unattributed for inactive code, got %s err=%v", outcome, err)
	}

	outcome, err = env.ledger.ApplyInvoicePaid(ctx, newLedgerTestInvoice("in_zero", "cus_zero", "sub_zero", 0, time.Now(), map[string]string{"ref": "ZERO1"}), ApplyOptions{})
	if err != nil || outcome != OutcomeZeroAmount {
		t.Fatalf("expected zero_amount, got %s err=%v", outcome, err)
	}
	if got := countServiceTestTransactions(t, env.db, constants.TransactionTypeCommission); got != 0 {
		t.Fatalf("expected no commission rows, got %d", got)
	}
}

func TestLedgerLinkedAffiliateDeactivatedLater(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx := context.Background()
	affiliate := createServiceTestAffiliate(t, env.db, "LATER", constants.AffiliateTierBase, true)
	if _, err := env.ledger.ApplyInvoicePaid(ctx, newLedgerTestInvoice("in_l1", "cus_l", "sub_l", 1000, time.Now(), map[string]string{"ref": "LATER"}), ApplyOptions{}); err != nil {
		t.Fatalf("apply first invoice failed: %v", err)
	}
	if err := env.db.Model(&models.Affiliate{}).Where("id = ?", affiliate.ID).Update("active", false).Error; err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	outcome, err := env.ledger.ApplyInvoicePaid(ctx, newLedgerTestInvoice("in_l2", "cus_l", "sub_l", 1000, time.Now(), nil), ApplyOptions{})
	if err != nil {
		t.Fatalf("apply second invoice failed: %v", err)
	}
	if outcome != OutcomeAffiliateInactive {
		t.Fatalf("expected affiliate_inactive, got %s", outcome)
	}
}

func TestLedgerReversalUsesOriginalPercentAfterPromotion(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx := context.Background()
	affiliate := createServiceTestAffiliate(t, env.db, "PROMO", constants.AffiliateTierBase, true)
	if _, err := env.ledger.ApplyInvoicePaid(ctx, newLedgerTestInvoice("in_p", "cus_p", "sub_p", 10000, time.Now(), map[string]string{"ref": "PROMO"}), ApplyOptions{}); err != nil {
		t.Fatalf("apply invoice failed: %v", err)
	}
	if err := env.db.Model(&models.Affiliate{}).Where("id = ?", affiliate.ID).Update("tier", constants.AffiliateTierGold).Error; err != nil {
		t.Fatalf("promote failed: %v", err)
	}

	outcome, err := env.ledger.ApplyDispute(ctx, commerce.Dispute{
		ID:          "dp_1",
		ChargeID:    "ch_in_p",
		AmountCents: 4000,
		Created:     time.Now(),
	}, ApplyOptions{})
	if err != nil || outcome != OutcomeBooked {
		t.Fatalf("expected dispute booked, got %s err=%v", outcome, err)
	}

	var dispute models.CommissionTransaction
	if err := env.db.Where("external_id = ? AND type = ?", "ch_in_p", constants.TransactionTypeDispute).First(&dispute).Error; err != nil {
		t.Fatalf("load dispute failed: %v", err)
	}
	if dispute.CommissionAmountCents != -1200 {
		t.Fatalf("expected -1200 at the original 30%%, got %d", dispute.CommissionAmountCents)
	}

	outcome, err = env.ledger.ApplyDispute(ctx, commerce.Dispute{ID: "dp_1", ChargeID: "ch_in_p", AmountCents: 4000}, ApplyOptions{})
	if err != nil || outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate dispute, got %s err=%v", outcome, err)
	}

	var sub models.Subscription
	if err := env.db.Where("external_id = ?", "sub_p").First(&sub).Error; err != nil {
		t.Fatalf("load subscription failed: %v", err)
	}
	if !sub.HasDispute {
		t.Fatalf("expected has_dispute")
	}
}

func TestLedgerReversalCappedAndMissingOriginal(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx := context.Background()
	createServiceTestAffiliate(t, env.db, "CAP1", constants.AffiliateTierBase, true)
	if _, err := env.ledger.ApplyInvoicePaid(ctx, newLedgerTestInvoice("in_cap", "cus_cap", "", 1000, time.Now(), map[string]string{"ref": "CAP1"}), ApplyOptions{}); err != nil {
		t.Fatalf("apply invoice failed: %v", err)
	}

	outcome, err := env.ledger.ApplyRefund(ctx, commerce.Refund{ChargeID: "ch_in_cap", AmountCents: 99999}, ApplyOptions{})
	if err != nil || outcome != OutcomeBooked {
		t.Fatalf("expected capped refund booked, got %s err=%v", outcome, err)
	}
	var refund models.CommissionTransaction
	if err := env.db.Where("type = ?", constants.TransactionTypeRefund).First(&refund).Error; err != nil {
		t.Fatalf("load refund failed: %v", err)
	}
	if refund.GrossAmountCents != -1000 || refund.CommissionAmountCents != -300 {
		t.Fatalf("expected reversal capped at original gross, got %+v", refund)
	}

	outcome, err = env.ledger.ApplyRefund(ctx, commerce.Refund{ChargeID: "ch_unknown", AmountCents: 500}, ApplyOptions{})
	if err != nil || outcome != OutcomeMissingOriginal {
		t.Fatalf("expected missing_original, got %s err=%v", outcome, err)
	}
}

func TestLedgerSubscriptionAttributionIsWriteOnce(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx := context.Background()
	first := createServiceTestAffiliate(t, env.db, "SUBA", constants.AffiliateTierBase, true)
	createServiceTestAffiliate(t, env.db, "SUBB", constants.AffiliateTierBase, true)

	sub := commerce.Subscription{ID: "sub_w", CustomerID: "cus_w", Status: "trialing", PlanAmountCents: 2900, Metadata: map[string]string{"ref": "SUBA"}}
	if outcome, err := env.ledger.ApplySubscription(ctx, sub, ApplyOptions{}); err != nil || outcome != OutcomeSynced {
		t.Fatalf("apply subscription failed: %s %v", outcome, err)
	}
	sub.Status = "active"
	sub.Metadata = map[string]string{"ref": "SUBB"}
	if _, err := env.ledger.ApplySubscription(ctx, sub, ApplyOptions{}); err != nil {
		t.Fatalf("reapply subscription failed: %v", err)
	}

	var row models.Subscription
	if err := env.db.Where("external_id = ?", "sub_w").First(&row).Error; err != nil {
		t.Fatalf("load subscription failed: %v", err)
	}
	if row.Status != constants.SubscriptionStatusActive {
		t.Fatalf("expected last-write-wins status, got %s", row.Status)
	}
	if row.AffiliateID == nil || *row.AffiliateID != first.ID {
		t.Fatalf("expected first affiliate to stick, got %v", row.AffiliateID)
	}
}

func TestLedgerIgnoredEvent(t *testing.T) {
	env := setupServiceTestEnv(t)
	outcome, err := env.ledger.ApplyEvent(context.Background(), commerce.Event{Kind: commerce.KindIgnored, Type: "product.created"}, ApplyOptions{})
	if err != nil || outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s err=%v", outcome, err)
	}
}

func ptrInvoice(inv commerce.Invoice) *commerce.Invoice {
	return &inv
}

func TestLedgerRefundConvergesAcrossWebhookAndSync(t *testing.T) {
	ctx := context.Background()
	ny := DefaultAvailabilityScheduler().Location()
	paidAt := time.Date(2026, 1, 10, 15, 0, 0, 0, ny)
	refundedAt := time.Date(2026, 3, 20, 15, 0, 0, 0, ny)

	book := func(env *serviceTestEnv) {
		t.Helper()
		createServiceTestAffiliate(t, env.db, "CONV", constants.AffiliateTierBase, true)
		inv := newLedgerTestInvoice("in_1", "cus_conv", "sub_conv", 10000, paidAt, map[string]string{"referral": "CONV"})
		if _, err := env.ledger.ApplyInvoicePaid(ctx, inv, ApplyOptions{Source: constants.SourceWebhook}); err != nil {
			t.Fatalf("apply invoice failed: %v", err)
		}
	}
	loadRefund := func(env *serviceTestEnv) models.CommissionTransaction {
		t.Helper()
		var row models.CommissionTransaction
		if err := env.db.Where("type = ?", constants.TransactionTypeRefund).First(&row).Error; err != nil {
			t.Fatalf("load refund failed: %v", err)
		}
		return row
	}

	webhookEnv := setupServiceTestEnv(t)
	book(webhookEnv)
	body, _ := json.Marshal(map[string]interface{}{
		"id":      "evt_conv",
		"type":    "charge.refunded",
		"created": refundedAt.Add(2 * time.Second).Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":              "ch_in_1",
				"invoice":         "in_1",
				"amount_refunded": 10000,
				"currency":        "usd",
				"created":         paidAt.Unix(),
				"refunds": map[string]interface{}{
					"data": []interface{}{
						map[string]interface{}{"id": "re_conv", "amount": 10000, "currency": "usd", "created": refundedAt.Unix()},
					},
				},
			},
		},
	})
	event, err := stripe.New(stripe.Config{}).ParseEvent(body)
	if err != nil {
		t.Fatalf("parse webhook failed: %v", err)
	}
	if _, err := webhookEnv.ledger.ApplyEvent(ctx, *event, ApplyOptions{Source: constants.SourceWebhook}); err != nil {
		t.Fatalf("apply webhook refund failed: %v", err)
	}

	syncEnv := setupServiceTestEnv(t)
	book(syncEnv)
	refund := commerce.Refund{ID: "re_conv", ChargeID: "ch_in_1", InvoiceID: "in_1", AmountCents: 10000, Currency: "usd", Created: refundedAt.UTC()}
	if _, err := syncEnv.ledger.ApplyRefund(ctx, refund, ApplyOptions{Source: constants.SourceIncrementalSync}); err != nil {
		t.Fatalf("apply sync refund failed: %v", err)
	}

	fromWebhook, fromSync := loadRefund(webhookEnv), loadRefund(syncEnv)
	if !fromWebhook.PaidAt.Equal(fromSync.PaidAt) || !fromWebhook.AvailableAt.Equal(fromSync.AvailableAt) {
		t.Fatalf("refund timing diverges: webhook paid_at=%s available_at=%s sync paid_at=%s available_at=%s",
			fromWebhook.PaidAt, fromWebhook.AvailableAt, fromSync.PaidAt, fromSync.AvailableAt)
	}
	if fromWebhook.ExternalID != fromSync.ExternalID || fromWebhook.CommissionAmountCents != fromSync.CommissionAmountCents || fromWebhook.GrossAmountCents != fromSync.GrossAmountCents {
		t.Fatalf("refund rows diverge: webhook=%+v sync=%+v", fromWebhook, fromSync)
	}
	wantAvailable := time.Date(2026, 4, 20, 12, 0, 0, 0, ny)
	if !fromWebhook.AvailableAt.Equal(wantAvailable) {
		t.Fatalf("expected refund available at %s, got %s", wantAvailable, fromWebhook.AvailableAt)
	}
}
