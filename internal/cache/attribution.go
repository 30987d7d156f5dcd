package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const attributionCacheTTLDefault = 5 * time.Minute

// CustomerAttribution 客户归因正向命中快照
type CustomerAttribution struct {
	CustomerID  string `json:"customer_id"`
	AffiliateID uint   `json:"affiliate_id"`
	Token       string `json:"token"`
	CachedAt    int64  `json:"cached_at"`
}

func customerAttributionKey(customerID string) string {
	return fmt.Sprintf("attr:customer:%s", strings.TrimSpace(customerID))
}

// GetCustomerAttribution 读取客户归因缓存
func GetCustomerAttribution(ctx context.Context, customerID string) (*CustomerAttribution, bool, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, false, nil
	}
	var state CustomerAttribution
	hit, err := GetJSON(ctx, customerAttributionKey(customerID), &state)
	if err != nil || !hit {
		return nil, hit, err
	}
	if state.AffiliateID == 0 {
		return nil, false, nil
	}
	return &state, true, nil
}

// SetCustomerAttribution 写入客户归因缓存，仅接受已归因结果
func SetCustomerAttribution(ctx context.Context, state *CustomerAttribution, ttl time.Duration) error {
	if state == nil || state.AffiliateID == 0 || strings.TrimSpace(state.CustomerID) == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = attributionCacheTTLDefault
	}
	if state.CachedAt == 0 {
		state.CachedAt = time.Now().Unix()
	}
	return SetJSON(ctx, customerAttributionKey(state.CustomerID), state, ttl)
}
