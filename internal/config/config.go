package config

import (
	"fmt"
	"strings"

	"github.com/partnerledger/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Queue       QueueConfig       `mapstructure:"queue"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Security    SecurityConfig    `mapstructure:"security"`
	Commerce    CommerceConfig    `mapstructure:"commerce"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Attribution AttributionConfig `mapstructure:"attribution"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// JWTConfig 运营后台令牌校验配置（令牌由门户签发）
type JWTConfig struct {
	SecretKey string `mapstructure:"secret"`
	Issuer    string `mapstructure:"issuer"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
	MaxRetry    int            `mapstructure:"max_retry"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	CronRateLimit RateLimitConfig `mapstructure:"cron_rate_limit"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// CommerceConfig 支付平台接入配置
type CommerceConfig struct {
	Provider                string `mapstructure:"provider"`
	SecretKey               string `mapstructure:"secret_key"`
	WebhookSecret           string `mapstructure:"webhook_secret"`
	APIBaseURL              string `mapstructure:"api_base_url"`
	WebhookToleranceSeconds int    `mapstructure:"webhook_tolerance_seconds"`
	RequestTimeoutSeconds   int    `mapstructure:"request_timeout_seconds"`
	PageSize                int    `mapstructure:"page_size"`
}

// LedgerConfig 佣金账本配置
type LedgerConfig struct {
	Timezone         string `mapstructure:"timezone"`          // 结算日历所在时区
	AvailabilityHour int    `mapstructure:"availability_hour"` // 可提现时刻（小时）
}

// AttributionConfig 归因配置
type AttributionConfig struct {
	MetadataKeys    []string `mapstructure:"metadata_keys"`     // 推荐码元数据键优先级
	CacheTTLSeconds int      `mapstructure:"cache_ttl_seconds"` // 正向命中缓存时长
}

// SyncConfig 同步任务配置
type SyncConfig struct {
	IncrementalWindowDays int    `mapstructure:"incremental_window_days"`
	ResyncMaxDays         int    `mapstructure:"resync_max_days"`
	CronSpec              string `mapstructure:"cron_spec"`
	CronSecret            string `mapstructure:"cron_secret"`
	MaxErrors             int    `mapstructure:"max_errors"`
	PageTimeoutSeconds    int    `mapstructure:"page_timeout_seconds"`
	RunTimeoutMinutes     int    `mapstructure:"run_timeout_minutes"`
	PayoutIntervalMinutes int    `mapstructure:"payout_interval_minutes"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load 从 config.yml 加载配置
func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("./etc")

	setDefaults()

	// 环境变量支持（例如 sync.cron_secret -> SYNC_CRON_SECRET）
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	return &cfg
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("log.dir", "")
	viper.SetDefault("log.filename", "ledger.log")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 7)
	viper.SetDefault("log.max_age_days", 30)
	viper.SetDefault("log.compress", true)
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "./db/ledger.db")
	viper.SetDefault("database.pool.max_open_conns", 1)
	viper.SetDefault("database.pool.max_idle_conns", 1)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.issuer", "")
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "127.0.0.1")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.prefix", "pl")
	viper.SetDefault("queue.enabled", true)
	viper.SetDefault("queue.host", "127.0.0.1")
	viper.SetDefault("queue.port", 6379)
	viper.SetDefault("queue.db", 1)
	viper.SetDefault("queue.concurrency", 10)
	viper.SetDefault("queue.max_retry", 8)
	viper.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	viper.SetDefault("cors.allowed_origins", []string{"*"})
	viper.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	viper.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"Cache-Control",
		"X-Requested-With",
	})
	viper.SetDefault("cors.allow_credentials", true)
	viper.SetDefault("cors.max_age", 600)
	viper.SetDefault("security.cron_rate_limit.window_seconds", 60)
	viper.SetDefault("security.cron_rate_limit.max_requests", 10)
	viper.SetDefault("commerce.provider", "stripe")
	viper.SetDefault("commerce.api_base_url", "https://api.stripe.com")
	viper.SetDefault("commerce.webhook_tolerance_seconds", 300)
	viper.SetDefault("commerce.request_timeout_seconds", 12)
	viper.SetDefault("commerce.page_size", 100)
	viper.SetDefault("ledger.timezone", "America/New_York")
	viper.SetDefault("ledger.availability_hour", 12)
	viper.SetDefault("attribution.metadata_keys", []string{
		"referral",
		"referral_code",
		"ref",
		"affiliate",
		"affiliate_code",
		"via",
	})
	viper.SetDefault("attribution.cache_ttl_seconds", 300)
	viper.SetDefault("sync.incremental_window_days", 3)
	viper.SetDefault("sync.resync_max_days", 365)
	viper.SetDefault("sync.cron_spec", "@every 1h")
	viper.SetDefault("sync.cron_secret", "")
	viper.SetDefault("sync.max_errors", 50)
	viper.SetDefault("sync.page_timeout_seconds", 30)
	viper.SetDefault("sync.run_timeout_minutes", 30)
	viper.SetDefault("sync.payout_interval_minutes", 60)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
}
