package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/partnerledger/internal/authz"
	"github.com/partnerledger/internal/cache"
	"github.com/partnerledger/internal/commerce"
	"github.com/partnerledger/internal/commerce/stripe"
	"github.com/partnerledger/internal/config"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/metrics"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/queue"
	"github.com/partnerledger/internal/repository"
	"github.com/partnerledger/internal/service"

	"gorm.io/gorm"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client
	Metrics     *metrics.Metrics
	Commerce    commerce.Provider

	// Repositories
	AffiliateRepo        repository.AffiliateRepository
	AttributionRepo      repository.AttributionRepository
	SubscriptionRepo     repository.SubscriptionRepository
	LedgerRepo           repository.LedgerRepository
	PayoutRepo           repository.PayoutRepository
	IngestionEventRepo   repository.IngestionEventRepository
	SyncRunRepo          repository.SyncRunRepository
	SettingRepo          repository.SettingRepository
	OperatorAuditLogRepo repository.OperatorAuditLogRepository

	// Services
	AuthzService         *authz.Service
	SettingService       *service.SettingService
	Scheduler            *service.AvailabilityScheduler
	AttributionService   *service.AttributionService
	LedgerService        *service.LedgerService
	AffiliateService     *service.AffiliateService
	PayoutService        *service.PayoutService
	SyncService          *service.SyncService
	BackfillService      *service.BackfillService
	IngestionService     *service.IngestionService
	OperatorAuditService *service.OperatorAuditService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if models.DB == nil {
		return nil, fmt.Errorf("database is not initialized")
	}

	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		queueClient, _ = queue.NewClient(nil)
	}

	commerceProvider, err := buildCommerceProvider(cfg.Commerce)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
		Metrics:     metrics.Default(),
		Commerce:    commerceProvider,
	}

	// 1. 初始化 Repositories
	c.initRepositories(models.DB)

	// 2. 初始化 Services
	if err := c.initServices(models.DB); err != nil {
		return nil, err
	}
	return c, nil
}

func buildCommerceProvider(cfg config.CommerceConfig) (commerce.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "stripe":
		return stripe.New(stripe.Config{
			SecretKey:               cfg.SecretKey,
			WebhookSecret:           cfg.WebhookSecret,
			APIBaseURL:              cfg.APIBaseURL,
			WebhookToleranceSeconds: cfg.WebhookToleranceSeconds,
			RequestTimeout:          time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
			PageSize:                cfg.PageSize,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported commerce provider: %s", cfg.Provider)
	}
}

func (c *Container) initRepositories(db *gorm.DB) {
	c.AffiliateRepo = repository.NewAffiliateRepository(db)
	c.AttributionRepo = repository.NewAttributionRepository(db)
	c.SubscriptionRepo = repository.NewSubscriptionRepository(db)
	c.LedgerRepo = repository.NewLedgerRepository(db)
	c.PayoutRepo = repository.NewPayoutRepository(db)
	c.IngestionEventRepo = repository.NewIngestionEventRepository(db)
	c.SyncRunRepo = repository.NewSyncRunRepository(db)
	c.SettingRepo = repository.NewSettingRepository(db)
	c.OperatorAuditLogRepo = repository.NewOperatorAuditLogRepository(db)
}

func (c *Container) initServices(db *gorm.DB) error {
	authzService, err := authz.NewService(db)
	if err != nil {
		logger.Errorw("provider_init_authz_failed", "error", err)
		return err
	}
	c.AuthzService = authzService
	if err := c.AuthzService.BootstrapBuiltinRoles(); err != nil {
		logger.Errorw("provider_bootstrap_builtin_roles_failed", "error", err)
		return err
	}

	scheduler, err := service.NewAvailabilityScheduler(c.Config.Ledger.Timezone, c.Config.Ledger.AvailabilityHour)
	if err != nil {
		logger.Errorw("provider_init_scheduler_failed",
			"timezone", c.Config.Ledger.Timezone,
			"availability_hour", c.Config.Ledger.AvailabilityHour,
			"error", err,
		)
		return err
	}
	c.Scheduler = scheduler

	c.SettingService = service.NewSettingService(c.SettingRepo)
	c.AttributionService = service.NewAttributionService(
		c.AffiliateRepo,
		c.AttributionRepo,
		c.Config.Attribution.MetadataKeys,
		time.Duration(c.Config.Attribution.CacheTTLSeconds)*time.Second,
	)
	c.LedgerService = service.NewLedgerService(c.LedgerRepo, c.SubscriptionRepo, c.AffiliateRepo, c.AttributionService, c.SettingService, c.Scheduler, c.Metrics)
	c.AffiliateService = service.NewAffiliateService(c.AffiliateRepo, c.AttributionRepo, c.SettingService)
	c.PayoutService = service.NewPayoutService(c.PayoutRepo, c.LedgerRepo, c.Scheduler, c.Metrics)
	c.SyncService = service.NewSyncService(c.Commerce, c.LedgerService, c.AffiliateService, c.SyncRunRepo, c.Metrics, SyncOptionsFromConfig(c.Config))
	c.BackfillService = service.NewBackfillService(c.SyncService, c.AffiliateService, c.AffiliateRepo, c.AttributionService, c.LedgerRepo, c.PayoutService)
	c.IngestionService = service.NewIngestionService(c.Commerce, c.IngestionEventRepo, c.LedgerService, c.QueueClient, c.Metrics)
	c.OperatorAuditService = service.NewOperatorAuditService(c.OperatorAuditLogRepo)
	return nil
}

// SyncOptionsFromConfig 由配置生成同步参数
func SyncOptionsFromConfig(cfg *config.Config) service.SyncOptions {
	if cfg == nil {
		return service.SyncOptions{}
	}
	return service.SyncOptions{
		IncrementalWindowDays: cfg.Sync.IncrementalWindowDays,
		ResyncMaxDays:         cfg.Sync.ResyncMaxDays,
		MaxErrors:             cfg.Sync.MaxErrors,
		PageSize:              cfg.Commerce.PageSize,
		PageTimeout:           time.Duration(cfg.Sync.PageTimeoutSeconds) * time.Second,
		RunTimeout:            time.Duration(cfg.Sync.RunTimeoutMinutes) * time.Minute,
	}
}

// Close 释放外部连接
func (c *Container) Close() {
	if c == nil || c.QueueClient == nil {
		return
	}
	if err := c.QueueClient.Close(); err != nil {
		logger.Warnw("provider_close_queue_client_failed", "error", err)
	}
}
