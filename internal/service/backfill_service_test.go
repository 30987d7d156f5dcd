package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/partnerledger/internal/commerce"
	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/repository"
)

func newBackfillTestService(env *serviceTestEnv, provider commerce.Provider, now time.Time) *BackfillService {
	syncService := newSyncTestService(env, provider, 10)
	syncService.now = func() time.Time { return now }
	return NewBackfillService(syncService, env.affiliates, env.repos.affiliate, env.attribution, env.repos.ledger, env.payouts)
}

func legacyTestExport() LegacyExport {
	inactive := false
	return LegacyExport{
		Since:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		CutoverMonth: "2026-10",
		Affiliates: []LegacyAffiliate{
			{Code: "ab12", Name: "Alice", Tier: 1, QualifyingSaleCount: 19, Aliases: []string{"spring"}},
			{Code: "OLD1", Name: "Old Partner", Tier: 2, Active: &inactive},
		},
		Links: []LegacyLink{
			{CustomerID: "cus_C", AffiliateCode: "AB12"},
			{CustomerID: "cus_Z", AffiliateCode: "MISSING"},
		},
	}
}

func TestBackfillRunImportsReplaysAndSettles(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	provider := newFakeCommerceProvider()
	provider.invoices = []commerce.Invoice{{
		ID:              "in_legacy",
		CustomerID:      "cus_C",
		SubscriptionID:  "sub_legacy",
		ChargeID:        "ch_legacy",
		AmountPaidCents: 10000,
		Paid:            true,
		PaidAt:          time.Date(2026, 7, 10, 15, 0, 0, 0, time.UTC),
	}}
	svc := newBackfillTestService(env, provider, now)

	summary, err := svc.Run(ctx, legacyTestExport(), "cli:ops", nil)
	if err != nil {
		t.Fatalf("backfill failed: %v", err)
	}
	if summary.Kind != constants.SyncKindBackfill || summary.Status != constants.SyncStatusPartial {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.ErrorTotal != 1 || !strings.Contains(summary.Errors[0], "cus_Z") {
		t.Fatalf("expected missing affiliate error for cus_Z, got %v", summary.Errors)
	}
	wantCounts := map[string]int64{
		"affiliates_created":    2,
		"affiliates_aliases":    1,
		"links_linked":          1,
		"links_errors":          1,
		"invoices_booked":       1,
		"payouts_months":        2,
		"payouts_written":       1,
	}
	for key, want := range wantCounts {
		if got := summary.Counts[key]; got != want {
			t.Fatalf("count %s: expected %d, got %d (all=%v)", key, want, got, summary.Counts)
		}
	}

	alice, err := env.repos.affiliate.GetByCode(ctx, "AB12")
	if err != nil || alice == nil {
		t.Fatalf("load AB12 failed: %v", err)
	}
	// 旧系统计数已包含回放窗口内的成交，不能再叠加
	if alice.Tier != constants.AffiliateTierBase || alice.QualifyingSaleCount != 19 {
		t.Fatalf("expected AB12 to keep 19 legacy sales at base tier, got tier=%d count=%d", alice.Tier, alice.QualifyingSaleCount)
	}
	old, err := env.repos.affiliate.GetByCode(ctx, "OLD1")
	if err != nil || old == nil || old.Active || old.Tier != constants.AffiliateTierSilver {
		t.Fatalf("unexpected OLD1 affiliate: %+v err=%v", old, err)
	}
	link, err := env.repos.attribution.GetLink(ctx, "cus_C")
	if err != nil || link == nil || link.Source != constants.SourceLegacy || link.AffiliateID != alice.ID {
		t.Fatalf("unexpected legacy link: %+v err=%v", link, err)
	}

	commission, err := env.repos.ledger.GetByExternalID(ctx, "in_legacy", constants.TransactionTypeCommission)
	if err != nil || commission == nil {
		t.Fatalf("load commission failed: %v", err)
	}
	if commission.CommissionAmountCents != 3000 || commission.Source != constants.SourceBackfill {
		t.Fatalf("unexpected backfilled commission: %+v", commission)
	}

	payouts, total, err := env.payouts.ListPayouts(ctx, repository.PayoutListFilter{Month: "2026-08"})
	if err != nil || total != 1 {
		t.Fatalf("expected one August payout, got total=%d err=%v", total, err)
	}
	august := payouts[0]
	if august.Status != constants.PayoutStatusPaid || august.Source != constants.PayoutSourceBackfill || august.TotalPayableCents != 3000 || august.PaidBy != "cli:ops" {
		t.Fatalf("unexpected August payout: %+v", august)
	}
}

func TestBackfillRunIsRestartable(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	provider := newFakeCommerceProvider()
	provider.invoices = []commerce.Invoice{{
		ID:              "in_legacy",
		CustomerID:      "cus_C",
		SubscriptionID:  "sub_legacy",
		AmountPaidCents: 10000,
		Paid:            true,
		PaidAt:          time.Date(2026, 7, 10, 15, 0, 0, 0, time.UTC),
	}}
	svc := newBackfillTestService(env, provider, now)
	export := legacyTestExport()
	export.Links = export.Links[:1]

	if _, err := svc.Run(ctx, export, "cli:ops", nil); err != nil {
		t.Fatalf("first backfill failed: %v", err)
	}
	summary, err := svc.Run(ctx, export, "cli:ops", nil)
	if err != nil {
		t.Fatalf("second backfill failed: %v", err)
	}
	if summary.Status != constants.SyncStatusSucceeded {
		t.Fatalf("expected succeeded rerun, got %s (%v)", summary.Status, summary.Errors)
	}
	wantCounts := map[string]int64{
		"affiliates_existing":  2,
		"links_existing":       1,
		"invoices_duplicate":   1,
		"payouts_skipped_paid": 1,
	}
	for key, want := range wantCounts {
		if got := summary.Counts[key]; got != want {
			t.Fatalf("count %s: expected %d, got %d (all=%v)", key, want, got, summary.Counts)
		}
	}
	if got := countServiceTestTransactions(t, env.db, constants.TransactionTypeCommission); got != 1 {
		t.Fatalf("expected one commission after rerun, got %d", got)
	}
}

func TestBackfillRunValidatesExport(t *testing.T) {
	env := setupServiceTestEnv(t)
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	svc := newBackfillTestService(env, newFakeCommerceProvider(), now)

	if _, err := svc.Run(context.Background(), LegacyExport{}, "cli", nil); !errors.Is(err, ErrBackfillInvalid) {
		t.Fatalf("expected ErrBackfillInvalid for zero since, got %v", err)
	}
	export := legacyTestExport()
	export.CutoverMonth = "2026-13"
	if _, err := svc.Run(context.Background(), export, "cli", nil); !errors.Is(err, ErrBackfillInvalid) {
		t.Fatalf("expected ErrBackfillInvalid for bad cutover, got %v", err)
	}
}

func TestDecodeLegacyExport(t *testing.T) {
	body := `{"since":"2025-01-01T00:00:00Z","cutover_month":"2026-01","affiliates":[{"code":"AB12","aliases":["SPRING"]}],"links":[{"customer_id":"cus_1","affiliate_code":"AB12"}]}`
	export, err := DecodeLegacyExport(strings.NewReader(body))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if export.CutoverMonth != "2026-01" || len(export.Affiliates) != 1 || export.Affiliates[0].Aliases[0] != "SPRING" || len(export.Links) != 1 {
		t.Fatalf("unexpected export: %+v", export)
	}
	if _, err := DecodeLegacyExport(strings.NewReader("{")); !errors.Is(err, ErrBackfillInvalid) {
		t.Fatalf("expected ErrBackfillInvalid, got %v", err)
	}
}

func TestBackfillRebuildsQualifyingSalesFromLedger(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	paidAt := time.Date(2026, 7, 10, 15, 0, 0, 0, time.UTC)

	provider := newFakeCommerceProvider()
	provider.invoices = []commerce.Invoice{
		{ID: "in_a1", CustomerID: "cus_A", SubscriptionID: "sub_a", ChargeID: "ch_a1", AmountPaidCents: 5000, Paid: true, PaidAt: paidAt},
		{ID: "in_a2", CustomerID: "cus_A", SubscriptionID: "sub_a", ChargeID: "ch_a2", AmountPaidCents: 5000, Paid: true, PaidAt: paidAt.AddDate(0, 1, 0)},
		{ID: "in_b1", CustomerID: "cus_B", SubscriptionID: "sub_b", ChargeID: "ch_b1", AmountPaidCents: 5000, Paid: true, PaidAt: paidAt},
	}
	svc := newBackfillTestService(env, provider, now)
	export := LegacyExport{
		Since:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		CutoverMonth: "2026-10",
		Affiliates: []LegacyAffiliate{
			{Code: "FRESH", Name: "Fresh", Tier: 1, QualifyingSaleCount: 1},
			{Code: "STALE", Name: "Stale", Tier: 1, QualifyingSaleCount: 5},
		},
		Links: []LegacyLink{
			{CustomerID: "cus_A", AffiliateCode: "FRESH"},
			{CustomerID: "cus_B", AffiliateCode: "FRESH"},
		},
	}

	summary, err := svc.Run(ctx, export, "cli:ops", nil)
	if err != nil {
		t.Fatalf("backfill failed: %v", err)
	}
	if summary.Counts["invoices_booked"] != 3 || summary.Counts["tiers_qualifying_reconciled"] != 1 {
		t.Fatalf("unexpected counts: %v", summary.Counts)
	}
	fresh, err := env.repos.affiliate.GetByCode(ctx, "FRESH")
	if err != nil || fresh == nil {
		t.Fatalf("load FRESH failed: %v", err)
	}
	if fresh.QualifyingSaleCount != 2 {
		t.Fatalf("expected FRESH rebuilt to 2 subscriptions, got %d", fresh.QualifyingSaleCount)
	}
	stale, err := env.repos.affiliate.GetByCode(ctx, "STALE")
	if err != nil || stale == nil || stale.QualifyingSaleCount != 5 {
		t.Fatalf("expected STALE to keep legacy count 5, got %+v err=%v", stale, err)
	}

	// 回填之后的实时入账恢复逐笔累加
	inv := commerce.Invoice{ID: "in_c1", CustomerID: "cus_A", SubscriptionID: "sub_c", ChargeID: "ch_c1", AmountPaidCents: 5000, Paid: true, PaidAt: now}
	if _, err := env.ledger.ApplyInvoicePaid(ctx, inv, ApplyOptions{Source: constants.SourceWebhook}); err != nil {
		t.Fatalf("apply live invoice failed: %v", err)
	}
	if got := loadServiceTestAffiliate(t, env.db, fresh.ID).QualifyingSaleCount; got != 3 {
		t.Fatalf("expected live sale to increment to 3, got %d", got)
	}
}
