package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/metrics"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:service_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(models.Tables()...); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

type serviceTestEnv struct {
	db          *gorm.DB
	metrics     *metrics.Metrics
	settings    *SettingService
	attribution *AttributionService
	ledger      *LedgerService
	affiliates  *AffiliateService
	payouts     *PayoutService
	repos       serviceTestRepos
}

type serviceTestRepos struct {
	affiliate    *repository.GormAffiliateRepository
	attribution  *repository.GormAttributionRepository
	subscription *repository.GormSubscriptionRepository
	ledger       *repository.GormLedgerRepository
	payout       *repository.GormPayoutRepository
	ingestion    *repository.GormIngestionEventRepository
	syncRun      *repository.GormSyncRunRepository
}

func setupServiceTestEnv(t *testing.T) *serviceTestEnv {
	t.Helper()
	return newServiceTestEnv(t, setupServiceTestDB(t))
}

func newServiceTestEnv(t *testing.T, db *gorm.DB) *serviceTestEnv {
	t.Helper()

	repos := serviceTestRepos{
		affiliate:    repository.NewAffiliateRepository(db),
		attribution:  repository.NewAttributionRepository(db),
		subscription: repository.NewSubscriptionRepository(db),
		ledger:       repository.NewLedgerRepository(db),
		payout:       repository.NewPayoutRepository(db),
		ingestion:    repository.NewIngestionEventRepository(db),
		syncRun:      repository.NewSyncRunRepository(db),
	}
	m := metrics.New(prometheus.NewRegistry())
	settings := NewSettingService(repository.NewSettingRepository(db))
	attribution := NewAttributionService(repos.affiliate, repos.attribution, nil, time.Minute)
	scheduler := DefaultAvailabilityScheduler()
	ledger := NewLedgerService(repos.ledger, repos.subscription, repos.affiliate, attribution, settings, scheduler, m)
	affiliates := NewAffiliateService(repos.affiliate, repos.attribution, settings)
	payouts := NewPayoutService(repos.payout, repos.ledger, scheduler, m)
	return &serviceTestEnv{
		db:          db,
		metrics:     m,
		settings:    settings,
		attribution: attribution,
		ledger:      ledger,
		affiliates:  affiliates,
		payouts:     payouts,
		repos:       repos,
	}
}

func createServiceTestAffiliate(t *testing.T, db *gorm.DB, code string, tier int, active bool) models.Affiliate {
	t.Helper()

	row := models.Affiliate{Code: code, Name: code, Email: code + "@example.com", Tier: tier, Active: true}
	if row.Tier == 0 {
		row.Tier = constants.AffiliateTierBase
	}
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

func createServiceTestAlias(t *testing.T, db *gorm.DB, affiliateID uint, token string) models.AffiliateAlias {
	t.Helper()

	row := models.AffiliateAlias{AffiliateID: affiliateID, Token: token}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("create alias failed: %v", err)
	}
	return row
}

func loadServiceTestAffiliate(t *testing.T, db *gorm.DB, id uint) models.Affiliate {
	t.Helper()

	var row models.Affiliate
	if err := db.First(&row, id).Error; err != nil {
		t.Fatalf("load affiliate failed: %v", err)
	}
	return row
}

func countServiceTestTransactions(t *testing.T, db *gorm.DB, txType string) int64 {
	t.Helper()

	var count int64
	if err := db.Model(&models.CommissionTransaction{}).Where("type = ?", txType).Count(&count).Error; err != nil {
		t.Fatalf("count transactions failed: %v", err)
	}
	return count
}
