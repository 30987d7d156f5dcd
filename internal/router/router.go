package router

import (
	"fmt"
	"strings"

	"github.com/partnerledger/internal/authz"
	"github.com/partnerledger/internal/cache"
	"github.com/partnerledger/internal/config"
	adminhandlers "github.com/partnerledger/internal/http/handlers/admin"
	publichandlers "github.com/partnerledger/internal/http/handlers/public"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/provider"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultMetricsPath = "/metrics"

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "pl"
	}
	cronRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:cron", redisPrefix),
		WindowSeconds: cfg.Security.CronRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.CronRateLimit.MaxRequests,
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	apiV1 := r.Group("/api/v1")
	{
		// 电商平台回调，签名在服务层校验
		apiV1.POST("/webhooks/commerce", publicHandler.CommerceWebhook)

		cron := apiV1.Group("/cron")
		cron.Use(
			RateLimitMiddleware(cache.Client(), cronRule, KeyByIP),
			CronSecretMiddleware(cfg.Sync.CronSecret),
		)
		{
			cron.POST("/incremental-sync", publicHandler.CronIncrementalSync)
		}

		admin := apiV1.Group("/admin")
		admin.Use(OperatorJWTAuthMiddleware(cfg.JWT), OperatorRBACMiddleware(authzServiceOf(c)))
		{
			// 同步与回填
			admin.POST("/sync/resync", adminHandler.Resync)
			admin.POST("/sync/backfill", adminHandler.Backfill)
			admin.GET("/sync/runs", adminHandler.ListSyncRuns)

			// 结算
			admin.GET("/payouts", adminHandler.ListPayouts)
			admin.POST("/payouts/aggregate", adminHandler.AggregatePayouts)
			admin.POST("/payouts/mark-paid", adminHandler.MarkPayoutsPaid)
			admin.GET("/transactions", adminHandler.ListTransactions)

			// 推广方
			admin.GET("/affiliates", adminHandler.ListAffiliates)
			admin.POST("/affiliates", adminHandler.CreateAffiliate)
			admin.POST("/affiliates/recompute-tiers", adminHandler.RecomputeTiers)
			admin.GET("/affiliates/:id", adminHandler.GetAffiliate)
			admin.PATCH("/affiliates/:id", adminHandler.UpdateAffiliate)
			admin.POST("/affiliates/:id/aliases", adminHandler.AddAffiliateAlias)
			admin.DELETE("/affiliates/:id/aliases/:token", adminHandler.RevokeAffiliateAlias)
			admin.GET("/links", adminHandler.ListLinks)

			// 设置
			admin.GET("/settings/commission-policy", adminHandler.GetCommissionPolicy)
			admin.PUT("/settings/commission-policy", adminHandler.UpdateCommissionPolicy)

			// 事件与审计
			admin.GET("/ingestion-events", adminHandler.ListIngestionEvents)
			admin.POST("/ingestion-events/:event_id/retry", adminHandler.RetryIngestionEvent)
			admin.GET("/audit-logs", adminHandler.ListAuditLogs)
		}
	}

	if cfg.Metrics.Enabled {
		metricsPath := strings.TrimSpace(cfg.Metrics.Path)
		if metricsPath == "" {
			metricsPath = defaultMetricsPath
		}
		r.GET(metricsPath, gin.WrapH(promhttp.Handler()))
	}

	// 健康检查
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}

func authzServiceOf(c *provider.Container) *authz.Service {
	if c == nil {
		return nil
	}
	return c.AuthzService
}
