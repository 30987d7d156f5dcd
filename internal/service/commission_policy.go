package service

import (
	"context"
	"fmt"
	"math"

	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/models"

	"github.com/shopspring/decimal"
)

const (
	commissionPercentMin      = 0
	commissionPercentMax      = 100
	commissionThresholdMin    = 1
	commissionThresholdMax    = 1000000
	commissionTier1PercentDef = 30
	commissionTier2PercentDef = 35
	commissionTier3PercentDef = 40
	commissionTier2CountDef   = 20
	commissionTier3CountDef   = 50
)

// CommissionPolicy 分级佣金比例与升级阈值
type CommissionPolicy struct {
	Tier1Percent   float64 `json:"tier1_percent"`
	Tier2Percent   float64 `json:"tier2_percent"`
	Tier3Percent   float64 `json:"tier3_percent"`
	Tier2Threshold int64   `json:"tier2_threshold"`
	Tier3Threshold int64   `json:"tier3_threshold"`
}

// CommissionPolicyDefault 默认佣金策略
func CommissionPolicyDefault() CommissionPolicy {
	return CommissionPolicy{
		Tier1Percent:   commissionTier1PercentDef,
		Tier2Percent:   commissionTier2PercentDef,
		Tier3Percent:   commissionTier3PercentDef,
		Tier2Threshold: commissionTier2CountDef,
		Tier3Threshold: commissionTier3CountDef,
	}
}

// NormalizeCommissionPolicy 归一化佣金策略
func NormalizeCommissionPolicy(policy CommissionPolicy) CommissionPolicy {
	policy.Tier1Percent = clampCommissionPercent(policy.Tier1Percent)
	policy.Tier2Percent = clampCommissionPercent(policy.Tier2Percent)
	policy.Tier3Percent = clampCommissionPercent(policy.Tier3Percent)
	return policy
}

// ValidateCommissionPolicy 校验佣金策略
func ValidateCommissionPolicy(policy CommissionPolicy) error {
	for _, percent := range []float64{policy.Tier1Percent, policy.Tier2Percent, policy.Tier3Percent} {
		if percent < commissionPercentMin || percent > commissionPercentMax {
			return fmt.Errorf("%w: 佣金比例必须在 0-100 之间", ErrCommissionPolicyInvalid)
		}
	}
	if policy.Tier2Threshold < commissionThresholdMin || policy.Tier3Threshold > commissionThresholdMax {
		return fmt.Errorf("%w: 升级阈值必须在 1-1000000 之间", ErrCommissionPolicyInvalid)
	}
	if policy.Tier3Threshold <= policy.Tier2Threshold {
		return fmt.Errorf("%w: 三级阈值必须大于二级阈值", ErrCommissionPolicyInvalid)
	}
	return nil
}

// CommissionPolicyToMap 将佣金策略转换为 settings 存储结构
func CommissionPolicyToMap(policy CommissionPolicy) map[string]interface{} {
	normalized := NormalizeCommissionPolicy(policy)
	return map[string]interface{}{
		"tier1_percent":   normalized.Tier1Percent,
		"tier2_percent":   normalized.Tier2Percent,
		"tier3_percent":   normalized.Tier3Percent,
		"tier2_threshold": normalized.Tier2Threshold,
		"tier3_threshold": normalized.Tier3Threshold,
	}
}

func commissionPolicyFromJSON(raw models.JSON, fallback CommissionPolicy) CommissionPolicy {
	result := fallback
	readPercent := func(key string, target *float64) {
		if value, ok := raw[key]; ok {
			if parsed, err := parseSettingFloat(value); err == nil {
				*target = parsed
			}
		}
	}
	readThreshold := func(key string, target *int64) {
		if value, ok := raw[key]; ok {
			if parsed, err := parseSettingInt(value); err == nil {
				*target = int64(parsed)
			}
		}
	}
	readPercent("tier1_percent", &result.Tier1Percent)
	readPercent("tier2_percent", &result.Tier2Percent)
	readPercent("tier3_percent", &result.Tier3Percent)
	readThreshold("tier2_threshold", &result.Tier2Threshold)
	readThreshold("tier3_threshold", &result.Tier3Threshold)

	result = NormalizeCommissionPolicy(result)
	if ValidateCommissionPolicy(result) != nil {
		return fallback
	}
	return result
}

func normalizeCommissionPolicyMap(value map[string]interface{}) models.JSON {
	policy := commissionPolicyFromJSON(models.JSON(value), CommissionPolicyDefault())
	return models.JSON(CommissionPolicyToMap(policy))
}

// TierFor 按有效成交数计算等级
func (p CommissionPolicy) TierFor(count int64) int {
	switch {
	case count >= p.Tier3Threshold:
		return constants.AffiliateTierGold
	case count >= p.Tier2Threshold:
		return constants.AffiliateTierSilver
	default:
		return constants.AffiliateTierBase
	}
}

// PercentForTier 返回等级对应的佣金比例
func (p CommissionPolicy) PercentForTier(tier int) decimal.Decimal {
	switch tier {
	case constants.AffiliateTierGold:
		return decimal.NewFromFloat(p.Tier3Percent).Round(2)
	case constants.AffiliateTierSilver:
		return decimal.NewFromFloat(p.Tier2Percent).Round(2)
	default:
		return decimal.NewFromFloat(p.Tier1Percent).Round(2)
	}
}

// TierForCount 默认阈值下的等级：≥50 为 3，≥20 为 2，否则为 1
func TierForCount(count int64) int {
	return CommissionPolicyDefault().TierFor(count)
}

// CommissionCents 按比例计算佣金（四舍五入，远离零）
func CommissionCents(amountCents int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amountCents).Mul(percent).Div(decimal.NewFromInt(100)).Round(0).IntPart()
}

// GetCommissionPolicy 获取佣金策略（优先 settings，空时回退默认）
func (s *SettingService) GetCommissionPolicy(ctx context.Context) (CommissionPolicy, error) {
	fallback := CommissionPolicyDefault()
	if s == nil {
		return fallback, nil
	}
	value, err := s.GetByKey(ctx, constants.SettingKeyCommissionPolicy)
	if err != nil {
		return fallback, err
	}
	if value == nil {
		return fallback, nil
	}
	return commissionPolicyFromJSON(value, fallback), nil
}

// UpdateCommissionPolicy 更新佣金策略
func (s *SettingService) UpdateCommissionPolicy(ctx context.Context, policy CommissionPolicy) (CommissionPolicy, error) {
	normalized := NormalizeCommissionPolicy(policy)
	if err := ValidateCommissionPolicy(normalized); err != nil {
		return CommissionPolicyDefault(), err
	}
	if _, err := s.Update(ctx, constants.SettingKeyCommissionPolicy, CommissionPolicyToMap(normalized)); err != nil {
		return CommissionPolicyDefault(), err
	}
	return normalized, nil
}

func clampCommissionPercent(value float64) float64 {
	value = math.Round(value*100) / 100
	if value < commissionPercentMin {
		return commissionPercentMin
	}
	if value > commissionPercentMax {
		return commissionPercentMax
	}
	return value
}
