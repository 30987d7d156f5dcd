package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/partnerledger/internal/config"
	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/provider"
	"github.com/partnerledger/internal/service"
)

func main() {
	var file string
	var operator string
	var since string
	var cutover string
	flag.StringVar(&file, "file", "", "旧系统导出的 JSON 文件")
	flag.StringVar(&operator, "operator", "", "执行人，写入运行记录的 triggered_by")
	flag.StringVar(&since, "since", "", "覆盖导出文件中的 since（RFC3339）")
	flag.StringVar(&cutover, "cutover", "", "覆盖导出文件中的 cutover_month（YYYY-MM）")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	defer logger.Sync()
	stdLog := logger.StdLogger()

	if strings.TrimSpace(file) == "" {
		stdLog.Fatalf("-file is required")
	}
	f, err := os.Open(file)
	if err != nil {
		stdLog.Fatalf("Failed to open export: %v", err)
	}
	export, err := service.DecodeLegacyExport(f)
	_ = f.Close()
	if err != nil {
		stdLog.Fatalf("Failed to decode export: %v", err)
	}
	if err := applyOverrides(export, since, cutover); err != nil {
		stdLog.Fatalf("Invalid override: %v", err)
	}

	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	container, err := provider.NewContainer(cfg)
	if err != nil {
		stdLog.Fatalf("Failed to init container: %v", err)
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	encoder := json.NewEncoder(os.Stdout)
	summary, err := container.BackfillService.Run(ctx, *export, triggeredBy(operator), func(update service.ProgressUpdate) {
		_ = encoder.Encode(update)
	})
	if summary != nil {
		_ = encoder.Encode(summary)
	}
	if err != nil {
		stdLog.Fatalf("Backfill failed: %v", err)
	}
}

func triggeredBy(operator string) string {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		if name, err := os.Hostname(); err == nil && name != "" {
			operator = name
		} else {
			operator = "unknown"
		}
	}
	return constants.TriggerCLI + ":" + operator
}
