package main

import (
	"context"
	"errors"
	"flag"
	"strings"
	"time"

	"github.com/partnerledger/internal/config"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/provider"
	"github.com/partnerledger/internal/service"
)

type demoAffiliate struct {
	input   service.AffiliateCreateInput
	aliases []string
}

var demoAffiliates = []demoAffiliate{
	{
		input: service.AffiliateCreateInput{
			Code:              "DEMO-CREATOR",
			Name:              "Demo Creator",
			Email:             "creator@example.com",
			PayoutDestination: map[string]interface{}{"method": "paypal", "email": "creator@example.com"},
		},
		aliases: []string{"CREATOR10"},
	},
	{
		input: service.AffiliateCreateInput{
			Code:              "DEMO-AGENCY",
			Name:              "Demo Agency",
			Email:             "agency@example.com",
			PayoutDestination: map[string]interface{}{"method": "bank", "iban": "DE00000000000000000000"},
		},
	},
}

func main() {
	var operatorID string
	var roles string
	var demo bool
	flag.StringVar(&operatorID, "operator", "", "要授予角色的运营人员标识（令牌 sub）")
	flag.StringVar(&roles, "roles", "", "逗号分隔的角色: readonly_auditor, reconciliation_operator, finance")
	flag.BoolVar(&demo, "demo", false, "写入演示推广方")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
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

	// 容器初始化时会写入内置角色
	container, err := provider.NewContainer(cfg)
	if err != nil {
		stdLog.Fatalf("Failed to init container: %v", err)
	}
	defer container.Close()
	stdLog.Printf("Builtin roles ready")

	if strings.TrimSpace(operatorID) != "" {
		roleList := splitRoles(roles)
		if len(roleList) == 0 {
			stdLog.Fatalf("-roles is required with -operator")
		}
		if err := container.AuthzService.SetOperatorRoles(operatorID, roleList); err != nil {
			stdLog.Fatalf("Failed to assign roles to %s: %v", operatorID, err)
		}
		stdLog.Printf("Assigned roles %v to operator %s", roleList, operatorID)
	}

	if !demo {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, item := range demoAffiliates {
		affiliate, err := container.AffiliateService.CreateAffiliate(ctx, item.input)
		if errors.Is(err, service.ErrAffiliateCodeExists) {
			stdLog.Printf("Affiliate already exists: %s", item.input.Code)
			continue
		}
		if err != nil {
			stdLog.Printf("Failed to create affiliate %s: %v", item.input.Code, err)
			continue
		}
		stdLog.Printf("Created affiliate: %s (id=%d)", affiliate.Code, affiliate.ID)
		for _, token := range item.aliases {
			if _, err := container.AffiliateService.AddAlias(ctx, affiliate.ID, token); err != nil {
				stdLog.Printf("Failed to add alias %s: %v", token, err)
				continue
			}
			stdLog.Printf("Added alias %s to %s", token, affiliate.Code)
		}
	}
}

func splitRoles(raw string) []string {
	parts := strings.Split(raw, ",")
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		if role := strings.TrimSpace(part); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
