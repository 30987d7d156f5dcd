package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/partnerledger/internal/commerce"
	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/models"
)

func newSyncTestService(env *serviceTestEnv, provider commerce.Provider, maxErrors int) *SyncService {
	return NewSyncService(provider, env.ledger, env.affiliates, env.repos.syncRun, env.metrics, SyncOptions{
		MaxErrors:   maxErrors,
		PageTimeout: time.Second,
	})
}

func TestRunIncrementalConvergesWithWebhook(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx := context.Background()
	createServiceTestAffiliate(t, env.db, "AB12", constants.AffiliateTierBase, true)
	now := time.Now().UTC()

	provider := newFakeCommerceProvider()
	provider.customers = []commerce.Customer{
		{ID: "cus_C", Metadata: map[string]string{"referral": "AB12"}},
		{ID: "cus_plain"},
		{ID: "cus_other", Metadata: map[string]string{"ref": "UNKNOWN"}},
	}
	provider.subscriptions = []commerce.Subscription{{ID: "sub_1", CustomerID: "cus_C", Status: "active", PlanAmountCents: 10000}}
	inv := commerce.Invoice{ID: "in_1", CustomerID: "cus_C", SubscriptionID: "sub_1", ChargeID: "ch_1", AmountPaidCents: 10000, Paid: true, PaidAt: now.Add(-time.Hour)}
	provider.invoices = []commerce.Invoice{inv, {ID: "in_2", CustomerID: "cus_plain", AmountPaidCents: 5000, Paid: true, PaidAt: now}}
	provider.refunds = []commerce.Refund{{ID: "re_1", ChargeID: "ch_1", AmountCents: 2500, Created: now}}

	// 先由实时路径入账，同步应判定为重复
	if _, err := env.ledger.ApplyEvent(ctx, commerce.Event{ID: "evt_1", Kind: commerce.KindCustomer, Customer: &provider.customers[0]}, ApplyOptions{Source: constants.SourceWebhook}); err != nil {
		t.Fatalf("webhook customer failed: %v", err)
	}
	if _, err := env.ledger.ApplyInvoicePaid(ctx, inv, ApplyOptions{Source: constants.SourceWebhook}); err != nil {
		t.Fatalf("webhook invoice failed: %v", err)
	}

	svc := newSyncTestService(env, provider, 10)
	summary, err := svc.RunIncremental(ctx, constants.TriggerScheduler)
	if err != nil {
		t.Fatalf("incremental sync failed: %v", err)
	}
	if summary.Status != constants.SyncStatusSucceeded || summary.Kind != constants.SyncKindIncremental || summary.WindowDays != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	wantCounts := map[string]int64{
		"customers_linked":       1,
		"customers_unattributed": 2,
		"subscriptions_synced":   1,
		"invoices_duplicate":     1,
		"invoices_unattributed":  1,
		"refunds_booked":         1,
	}
	for key, want := range wantCounts {
		if got := summary.Counts[key]; got != want {
			t.Fatalf("count %s: expected %d, got %d (all=%v)", key, want, got, summary.Counts)
		}
	}
	if provider.listCalls["customers"] != 2 {
		t.Fatalf("expected customers paged twice, got %d", provider.listCalls["customers"])
	}
	if got := countServiceTestTransactions(t, env.db, constants.TransactionTypeCommission); got != 1 {
		t.Fatalf("expected one commission after convergence, got %d", got)
	}

	run, err := env.repos.syncRun.GetByRunID(ctx, summary.RunID)
	if err != nil || run == nil {
		t.Fatalf("load sync run failed: %v", err)
	}
	if run.Status != constants.SyncStatusSucceeded || run.FinishedAt == nil || run.Counts.Int64("refunds_booked") != 1 {
		t.Fatalf("unexpected persisted run: %+v", run)
	}
}

func TestRunResyncCapsErrorsAndReportsProgress(t *testing.T) {
	env := setupServiceTestEnv(t)
	provider := newFakeCommerceProvider()
	provider.invoices = []commerce.Invoice{
		{CustomerID: "cus_a", Paid: true},
		{CustomerID: "cus_b", Paid: true},
		{CustomerID: "cus_c", Paid: true},
	}

	var steps []string
	reporter := func(update ProgressUpdate) {
		if len(steps) == 0 || steps[len(steps)-1] != update.Step {
			steps = append(steps, update.Step)
		}
	}

	svc := newSyncTestService(env, provider, 2)
	summary, err := svc.RunResync(context.Background(), 30, "operator:7", reporter)
	if err != nil {
		t.Fatalf("resync failed: %v", err)
	}
	if summary.Status != constants.SyncStatusPartial {
		t.Fatalf("expected partial status, got %s", summary.Status)
	}
	if summary.ErrorTotal != 3 || len(summary.Errors) != 2 {
		t.Fatalf("expected 3 errors with 2 kept, got total=%d kept=%d", summary.ErrorTotal, len(summary.Errors))
	}
	want := []string{
		constants.SyncStepCustomers,
		constants.SyncStepSubscriptions,
		constants.SyncStepInvoices,
		constants.SyncStepRefunds,
		constants.SyncStepDisputes,
		constants.SyncStepTiers,
	}
	if len(steps) != len(want) {
		t.Fatalf("unexpected steps: %v", steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("step %d: expected %s, got %s", i, want[i], steps[i])
		}
	}
}

func TestRunResyncValidatesDays(t *testing.T) {
	env := setupServiceTestEnv(t)
	svc := newSyncTestService(env, newFakeCommerceProvider(), 0)
	for _, days := range []int{0, -1, 366} {
		if _, err := svc.RunResync(context.Background(), days, "operator:1", nil); !errors.Is(err, ErrResyncDaysInvalid) {
			t.Fatalf("days %d: expected ErrResyncDaysInvalid, got %v", days, err)
		}
	}
}

func TestRunIncrementalPageFailureMarksRunFailed(t *testing.T) {
	env := setupServiceTestEnv(t)
	provider := newFakeCommerceProvider()
	provider.invoiceErr = commerce.ErrRequestFailed

	svc := newSyncTestService(env, provider, 0)
	summary, err := svc.RunIncremental(context.Background(), constants.TriggerCron)
	if !errors.Is(err, commerce.ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	if summary == nil || summary.Status != constants.SyncStatusFailed {
		t.Fatalf("expected failed summary, got %+v", summary)
	}
	if provider.listCalls["refunds"] != 0 {
		t.Fatalf("later steps must not run after a page failure")
	}
	run, err := env.repos.syncRun.GetByRunID(context.Background(), summary.RunID)
	if err != nil || run == nil || run.Status != constants.SyncStatusFailed || run.ErrorMessage == "" {
		t.Fatalf("unexpected persisted run: %+v err=%v", run, err)
	}
}

func TestRunResyncCanceledContext(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider := newFakeCommerceProvider()
	provider.customers = []commerce.Customer{{ID: "cus_1"}}

	svc := newSyncTestService(env, provider, 0)
	summary, err := svc.RunResync(ctx, 7, "operator:1", func(ProgressUpdate) { cancel() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary == nil || summary.Status != constants.SyncStatusCanceled {
		t.Fatalf("expected canceled status, got %s", summary.Status)
	}
	run, err := env.repos.syncRun.GetByRunID(context.Background(), summary.RunID)
	if err != nil || run == nil || run.Status != constants.SyncStatusCanceled {
		t.Fatalf("canceled run must be persisted, got %+v err=%v", run, err)
	}
}

func TestCancelStaleRuns(t *testing.T) {
	env := setupServiceTestEnv(t)
	ctx := context.Background()
	stale := &models.SyncRun{
		RunID:     "stale-run",
		Kind:      constants.SyncKindResync,
		Status:    constants.SyncStatusRunning,
		Counts:    models.JSON{},
		StartedAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := env.repos.syncRun.Create(ctx, stale); err != nil {
		t.Fatalf("create stale run failed: %v", err)
	}

	svc := newSyncTestService(env, newFakeCommerceProvider(), 0)
	canceled, err := svc.CancelStaleRuns(ctx)
	if err != nil {
		t.Fatalf("cancel stale runs failed: %v", err)
	}
	if canceled != 1 {
		t.Fatalf("expected one stale run canceled, got %d", canceled)
	}
	run, err := env.repos.syncRun.GetByRunID(ctx, "stale-run")
	if err != nil || run == nil || run.Status != constants.SyncStatusCanceled {
		t.Fatalf("unexpected stale run: %+v err=%v", run, err)
	}
}
