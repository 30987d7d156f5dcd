package authz

import "fmt"

// 预置角色名称
const (
	RoleReadonlyAuditor        = "readonly_auditor"
	RoleReconciliationOperator = "reconciliation_operator"
	RoleFinance                = "finance"
)

// RoleSeed 预置角色定义
type RoleSeed struct {
	Role     string
	Inherits []string
	Policies []Policy
}

// BuiltinRoleSeeds 系统预置角色矩阵
func BuiltinRoleSeeds() []RoleSeed {
	return []RoleSeed{
		{
			Role: RoleReadonlyAuditor,
			Policies: []Policy{
				{Object: "/admin/*", Action: "GET"},
			},
		},
		{
			Role:     RoleReconciliationOperator,
			Inherits: []string{RoleReadonlyAuditor},
			Policies: []Policy{
				{Object: "/admin/sync/resync", Action: "POST"},
				{Object: "/admin/sync/backfill", Action: "POST"},
				{Object: "/admin/ingestion-events/:event_id/retry", Action: "POST"},
				{Object: "/admin/affiliates", Action: "POST"},
				{Object: "/admin/affiliates/:id", Action: "PATCH"},
				{Object: "/admin/affiliates/:id/aliases", Action: "POST"},
				{Object: "/admin/affiliates/:id/aliases/:token", Action: "DELETE"},
				{Object: "/admin/affiliates/recompute-tiers", Action: "POST"},
			},
		},
		{
			Role:     RoleFinance,
			Inherits: []string{RoleReadonlyAuditor},
			Policies: []Policy{
				{Object: "/admin/payouts/aggregate", Action: "POST"},
				{Object: "/admin/payouts/mark-paid", Action: "POST"},
				{Object: "/admin/settings/commission-policy", Action: "PUT"},
			},
		},
	}
}

// BootstrapBuiltinRoles 初始化预置角色与默认策略，可重复执行
func (s *Service) BootstrapBuiltinRoles() error {
	if s == nil || s.enforcer == nil {
		return errUnavailable
	}
	for _, seed := range BuiltinRoleSeeds() {
		role, err := s.EnsureRole(seed.Role)
		if err != nil {
			return err
		}
		for _, parent := range seed.Inherits {
			parentRole, err := NormalizeRole(parent)
			if err != nil {
				return err
			}
			if _, err := s.enforcer.AddNamedGroupingPolicy("g", role, parentRole); err != nil {
				return fmt.Errorf("link role inheritance failed: %w", err)
			}
		}
		for _, policy := range seed.Policies {
			action := NormalizeAction(policy.Action)
			if action == "" {
				return fmt.Errorf("builtin policy action is required")
			}
			if _, err := s.enforcer.AddPolicy(role, NormalizeObject(policy.Object), action); err != nil {
				return fmt.Errorf("add builtin policy failed: %w", err)
			}
		}
	}
	return nil
}
