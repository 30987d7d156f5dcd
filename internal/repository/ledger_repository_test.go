package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupRepositoryTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:ledger_repository_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(models.Tables()...); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

func createRepositoryTestAffiliate(t *testing.T, db *gorm.DB, code string, active bool) models.Affiliate {
	t.Helper()

	row := models.Affiliate{Code: code, Name: code, Tier: constants.AffiliateTierBase, Active: true}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("create affiliate failed: %v", err)
	}
	if !active {
		if err := db.Model(&row).Update("active", false).Error; err != nil {
			t.Fatalf("deactivate affiliate failed: %v", err)
		}
		row.Active = false
	}
	return row
}

func newRepositoryTestCommission(affiliateID uint, invoiceID, subID string, paidAt time.Time) *models.CommissionTransaction {
	return &models.CommissionTransaction{
		AffiliateID:           affiliateID,
		SubscriptionID:        subID,
		CustomerID:            "cus_1",
		ExternalID:            invoiceID,
		ChargeID:              "ch_" + invoiceID,
		Type:                  constants.TransactionTypeCommission,
		GrossAmountCents:      10000,
		CommissionPercent:     models.NewMoneyFromDecimal(decimal.NewFromInt(30)),
		CommissionAmountCents: 3000,
		Currency:              "usd",
		PaidAt:                paidAt.UTC(),
		AvailableAt:           paidAt.AddDate(0, 1, 0).UTC(),
	}
}

func TestLedgerCreateIfAbsentIsIdempotent(t *testing.T) {
	db := setupRepositoryTestDB(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()
	affiliate := createRepositoryTestAffiliate(t, db, "AB12", true)

	paidAt := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	created, err := repo.CreateIfAbsent(ctx, newRepositoryTestCommission(affiliate.ID, "in_1", "sub_1", paidAt))
	if err != nil || !created {
		t.Fatalf("expected first insert, created=%v err=%v", created, err)
	}
	created, err = repo.CreateIfAbsent(ctx, newRepositoryTestCommission(affiliate.ID, "in_1", "sub_1", paidAt))
	if err != nil {
		t.Fatalf("second insert failed: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate insert to be skipped")
	}

	var count int64
	db.Model(&models.CommissionTransaction{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}

	original, err := repo.FindOriginalCommission(ctx, "ch_in_1", "")
	if err != nil || original == nil || original.ExternalID != "in_1" {
		t.Fatalf("find by charge failed: row=%+v err=%v", original, err)
	}
	original, err = repo.FindOriginalCommission(ctx, "ch_missing", "in_1")
	if err != nil || original == nil {
		t.Fatalf("fallback to invoice id failed: row=%+v err=%v", original, err)
	}
	original, err = repo.FindOriginalCommission(ctx, "ch_missing", "in_missing")
	if err != nil || original != nil {
		t.Fatalf("expected no original, got %+v err=%v", original, err)
	}
}

func TestIncrementQualifyingSaleOnlyOnFirstCommission(t *testing.T) {
	db := setupRepositoryTestDB(t)
	ledger := NewLedgerRepository(db)
	affiliates := NewAffiliateRepository(db)
	ctx := context.Background()
	affiliate := createRepositoryTestAffiliate(t, db, "TIER1", true)
	paidAt := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)

	for i, invoiceID := range []string{"in_a", "in_b", "in_c"} {
		if _, err := ledger.CreateIfAbsent(ctx, newRepositoryTestCommission(affiliate.ID, invoiceID, "sub_renewing", paidAt)); err != nil {
			t.Fatalf("insert commission failed: %v", err)
		}
		incremented, err := affiliates.IncrementQualifyingSale(ctx, affiliate.ID, "sub_renewing")
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
		if want := i == 0; incremented != want {
			t.Fatalf("invoice %s: expected incremented=%v got %v", invoiceID, want, incremented)
		}
	}

	reloaded, err := affiliates.GetByID(ctx, affiliate.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload affiliate failed: %v", err)
	}
	if reloaded.QualifyingSaleCount != 1 {
		t.Fatalf("expected qualifying count 1, got %d", reloaded.QualifyingSaleCount)
	}
}

func TestAggregateByAffiliateSplitsNegative(t *testing.T) {
	db := setupRepositoryTestDB(t)
	ledger := NewLedgerRepository(db)
	ctx := context.Background()
	affiliate := createRepositoryTestAffiliate(t, db, "AGG1", true)
	paidAt := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)

	for _, id := range []string{"in_1", "in_2", "in_3"} {
		if _, err := ledger.CreateIfAbsent(ctx, newRepositoryTestCommission(affiliate.ID, id, "sub_"+id, paidAt)); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}
	refund := newRepositoryTestCommission(affiliate.ID, "ch_in_1", "sub_in_1", paidAt)
	refund.Type = constants.TransactionTypeRefund
	refund.GrossAmountCents = -10000
	refund.CommissionAmountCents = -2000
	if _, err := ledger.CreateIfAbsent(ctx, refund); err != nil {
		t.Fatalf("insert refund failed: %v", err)
	}

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rows, err := ledger.AggregateByAffiliate(ctx, from, from.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one aggregate row, got %d", len(rows))
	}
	if rows[0].CommissionCents != 9000 || rows[0].NegativeCents != 2000 || rows[0].TxCount != 4 {
		t.Fatalf("unexpected aggregate: %+v", rows[0])
	}
}

func TestCreateLinkIfAbsentKeepsFirstTouch(t *testing.T) {
	db := setupRepositoryTestDB(t)
	repo := NewAttributionRepository(db)
	ctx := context.Background()
	first := createRepositoryTestAffiliate(t, db, "FIRST", true)
	second := createRepositoryTestAffiliate(t, db, "SECOND", true)

	created, err := repo.CreateLinkIfAbsent(ctx, &models.CustomerAffiliateLink{CustomerID: "cus_9", AffiliateID: first.ID, Source: constants.SourceWebhook})
	if err != nil || !created {
		t.Fatalf("expected link created, created=%v err=%v", created, err)
	}
	created, err = repo.CreateLinkIfAbsent(ctx, &models.CustomerAffiliateLink{CustomerID: "cus_9", AffiliateID: second.ID, Source: constants.SourceResync})
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if created {
		t.Fatalf("expected second link to be ignored")
	}
	link, err := repo.GetLink(ctx, "cus_9")
	if err != nil || link == nil {
		t.Fatalf("get link failed: %v", err)
	}
	if link.AffiliateID != first.ID {
		t.Fatalf("expected first-touch affiliate %d, got %d", first.ID, link.AffiliateID)
	}
}

func TestFindActiveByAliasToken(t *testing.T) {
	db := setupRepositoryTestDB(t)
	repo := NewAffiliateRepository(db)
	ctx := context.Background()
	active := createRepositoryTestAffiliate(t, db, "OWNER", true)
	inactive := createRepositoryTestAffiliate(t, db, "GONE", false)

	if err := repo.CreateAlias(ctx, &models.AffiliateAlias{Token: " spring24 ", AffiliateID: active.ID}); err != nil {
		t.Fatalf("create alias failed: %v", err)
	}
	if err := repo.CreateAlias(ctx, &models.AffiliateAlias{Token: "OLDCODE", AffiliateID: inactive.ID}); err != nil {
		t.Fatalf("create alias failed: %v", err)
	}

	found, err := repo.FindActiveByAliasToken(ctx, "Spring24")
	if err != nil || found == nil || found.ID != active.ID {
		t.Fatalf("expected alias to resolve to %d, got %+v err=%v", active.ID, found, err)
	}
	found, err = repo.FindActiveByAliasToken(ctx, "oldcode")
	if err != nil || found != nil {
		t.Fatalf("expected inactive affiliate alias ignored, got %+v err=%v", found, err)
	}

	revoked, err := repo.RevokeAlias(ctx, active.ID, "SPRING24", time.Now())
	if err != nil || revoked != 1 {
		t.Fatalf("revoke alias failed: revoked=%d err=%v", revoked, err)
	}
	found, err = repo.FindActiveByAliasToken(ctx, "SPRING24")
	if err != nil || found != nil {
		t.Fatalf("expected revoked alias ignored, got %+v err=%v", found, err)
	}
	live, err := repo.CountLiveAliases(ctx, active.ID)
	if err != nil || live != 0 {
		t.Fatalf("expected no live aliases, got %d err=%v", live, err)
	}
}

func TestSubscriptionUpsertKeepsAffiliateAndSetsFlagOnce(t *testing.T) {
	db := setupRepositoryTestDB(t)
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()
	first := createRepositoryTestAffiliate(t, db, "SUBA", true)
	second := createRepositoryTestAffiliate(t, db, "SUBB", true)

	if err := repo.EnsureExists(ctx, &models.Subscription{ExternalID: "sub_1", CustomerID: "cus_1", Status: constants.SubscriptionStatusActive}); err != nil {
		t.Fatalf("ensure exists failed: %v", err)
	}
	firstID := first.ID
	if err := repo.Upsert(ctx, &models.Subscription{ExternalID: "sub_1", CustomerID: "cus_1", AffiliateID: &firstID, Status: constants.SubscriptionStatusTrialing}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	secondID := second.ID
	if err := repo.Upsert(ctx, &models.Subscription{ExternalID: "sub_1", CustomerID: "cus_1", AffiliateID: &secondID, Status: constants.SubscriptionStatusActive, PlanAmountCents: 10000}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	sub, err := repo.GetByExternalID(ctx, "sub_1")
	if err != nil || sub == nil {
		t.Fatalf("get subscription failed: %v", err)
	}
	if sub.AffiliateID == nil || *sub.AffiliateID != first.ID {
		t.Fatalf("expected affiliate %d kept, got %+v", first.ID, sub.AffiliateID)
	}
	if sub.Status != constants.SubscriptionStatusActive || sub.PlanAmountCents != 10000 {
		t.Fatalf("expected last-write-wins status, got %s %d", sub.Status, sub.PlanAmountCents)
	}

	changed, err := repo.SetFlag(ctx, "sub_1", SubscriptionFlagRefund)
	if err != nil || !changed {
		t.Fatalf("expected flag set, changed=%v err=%v", changed, err)
	}
	changed, err = repo.SetFlag(ctx, "sub_1", SubscriptionFlagRefund)
	if err != nil || changed {
		t.Fatalf("expected flag already set, changed=%v err=%v", changed, err)
	}
	if _, err := repo.SetFlag(ctx, "sub_1", "status"); err == nil {
		t.Fatalf("expected unsupported flag error")
	}
}
