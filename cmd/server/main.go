package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/partnerledger/internal/app"
	"github.com/partnerledger/internal/config"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
	ansiCyan  = "\033[36m"
	ansiGreen = "\033[32m"
)

func main() {
	// 解析命令行参数
	var mode string
	flag.StringVar(&mode, "mode", app.ModeAll, "启动模式: all (默认), api, worker")
	flag.Parse()

	printStartupBanner(mode)

	// .env 仅用于本地开发，缺失时忽略
	envErr := godotenv.Load()

	// 加载配置
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if envErr != nil && !os.IsNotExist(envErr) {
		logger.Warnw("dotenv_load_failed", "error", envErr)
	}

	if cfg.Server.Mode == "release" {
		if isWeakSecret(cfg.JWT.SecretKey) {
			stdLog.Fatalf("JWT secret 过弱或仍为默认值，请配置与运营门户一致的强随机密钥")
		}
	} else if isWeakSecret(cfg.JWT.SecretKey) {
		stdLog.Printf("警告: JWT secret 过弱或仍为默认值，建议在生产环境中更换")
	}
	if strings.TrimSpace(cfg.Sync.CronSecret) == "" {
		stdLog.Printf("警告: 未配置 sync.cron_secret，定时同步接口将拒绝所有请求")
	}

	// 初始化数据库
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("数据库初始化失败: %v", err)
	}

	// 自动迁移数据库表
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("数据库迁移失败: %v", err)
	}

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := app.Run(app.Options{
		Config:  cfg,
		Logger:  logger.S(),
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Mode:    mode,
	}); err != nil {
		stdLog.Fatalf("服务运行失败: %v", err)
	}
	logger.Sync()
}

func printStartupBanner(mode string) {
	fmt.Println(ansiCyan + "╔══════════════════════════════════════════════════════════╗" + ansiReset)
	fmt.Println(ansiCyan + "║               PartnerLedger 佣金对账服务启动中               ║" + ansiReset)
	fmt.Println(ansiCyan + "╚══════════════════════════════════════════════════════════╝" + ansiReset)
	fmt.Println(ansiGreen + ansiBold + "mode: " + mode + ansiReset)
	fmt.Println(ansiDim + "----------------------------------------------------------" + ansiReset)
}

func isWeakSecret(secret string) bool {
	if len(secret) < 32 {
		return true
	}
	normalized := strings.ToLower(secret)
	if strings.Contains(normalized, "change-me") ||
		strings.Contains(normalized, "change-in-production") ||
		strings.Contains(normalized, "your-secret-key") {
		return true
	}
	return false
}
