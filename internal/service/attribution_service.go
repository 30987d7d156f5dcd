package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/partnerledger/internal/cache"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/repository"
)

// DefaultReferralMetadataKeys 推荐码元数据键，按优先级排列
var DefaultReferralMetadataKeys = []string{
	"referral",
	"referral_code",
	"ref",
	"affiliate",
	"affiliate_code",
	"via",
}

// AttributionResult 归因结果
type AttributionResult struct {
	AffiliateID uint
	Created     bool
	Token       string
}

// AttributionCache 单次批处理或单个事件范围内的正向命中缓存
type AttributionCache struct {
	mu   sync.Mutex
	hits map[string]AttributionResult
}

// NewAttributionCache 创建请求级归因缓存
func NewAttributionCache() *AttributionCache {
	return &AttributionCache{hits: make(map[string]AttributionResult)}
}

func (c *AttributionCache) get(customerID string) (AttributionResult, bool) {
	if c == nil {
		return AttributionResult{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	hit, ok := c.hits[customerID]
	return hit, ok
}

func (c *AttributionCache) put(customerID string, result AttributionResult) {
	if c == nil || result.AffiliateID == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	result.Created = false
	c.hits[customerID] = result
}

// Len 返回缓存条目数
func (c *AttributionCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hits)
}

type attributionCacheKey struct{}

// WithAttributionCache 将请求级缓存绑定到 context
func WithAttributionCache(ctx context.Context, c *AttributionCache) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, attributionCacheKey{}, c)
}

func attributionCacheFrom(ctx context.Context) *AttributionCache {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(attributionCacheKey{}).(*AttributionCache)
	return c
}

// AttributionService 客户归因解析
type AttributionService struct {
	affiliateRepo   repository.AffiliateRepository
	attributionRepo repository.AttributionRepository
	metadataKeys    []string
	cacheTTL        time.Duration
}

// NewAttributionService 创建归因服务
func NewAttributionService(
	affiliateRepo repository.AffiliateRepository,
	attributionRepo repository.AttributionRepository,
	metadataKeys []string,
	cacheTTL time.Duration,
) *AttributionService {
	keys := normalizeMetadataKeys(metadataKeys)
	if len(keys) == 0 {
		keys = append([]string(nil), DefaultReferralMetadataKeys...)
	}
	return &AttributionService{
		affiliateRepo:   affiliateRepo,
		attributionRepo: attributionRepo,
		metadataKeys:    keys,
		cacheTTL:        cacheTTL,
	}
}

// MetadataKeys 返回生效的元数据键顺序
func (s *AttributionService) MetadataKeys() []string {
	return append([]string(nil), s.metadataKeys...)
}

// Resolve 解析客户归属的推广方，首次归因后不再改变
func (s *AttributionService) Resolve(ctx context.Context, customerID string, candidates []map[string]string, source string) (*AttributionResult, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, nil
	}
	if result, ok := s.lookupCached(ctx, customerID); ok {
		return &result, nil
	}

	link, err := s.attributionRepo.GetLink(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if link != nil {
		result := AttributionResult{AffiliateID: link.AffiliateID, Token: link.MatchedToken}
		s.remember(ctx, customerID, result)
		return &result, nil
	}

	token := ExtractReferralToken(candidates, s.metadataKeys)
	if token == "" {
		return nil, nil
	}
	affiliate, err := s.ResolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if affiliate == nil {
		logger.Debugw("attribution_token_unmatched", "customer_id", customerID, "token", token)
		return nil, nil
	}
	return s.LinkCustomer(ctx, customerID, affiliate.ID, token, source)
}

// LinkCustomer 以先到先得方式写入客户归因并返回最终生效的归属
func (s *AttributionService) LinkCustomer(ctx context.Context, customerID string, affiliateID uint, token, source string) (*AttributionResult, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" || affiliateID == 0 {
		return nil, nil
	}
	created, err := s.attributionRepo.CreateLinkIfAbsent(ctx, &models.CustomerAffiliateLink{
		CustomerID:   customerID,
		AffiliateID:  affiliateID,
		Source:       strings.TrimSpace(source),
		MatchedToken: normalizeReferralToken(token),
	})
	if err != nil {
		return nil, err
	}
	// 并发解析时以库中已存在的归因为准
	link, err := s.attributionRepo.GetLink(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, nil
	}
	result := AttributionResult{
		AffiliateID: link.AffiliateID,
		Created:     created && link.AffiliateID == affiliateID,
		Token:       link.MatchedToken,
	}
	if result.Created {
		logger.Infow("attribution_link_created",
			"customer_id", customerID,
			"affiliate_id", link.AffiliateID,
			"token", link.MatchedToken,
			"source", source,
		)
	}
	s.remember(ctx, customerID, result)
	return &result, nil
}

// ResolveToken 按推广码或生效别名查找启用中的推广方
func (s *AttributionService) ResolveToken(ctx context.Context, token string) (*models.Affiliate, error) {
	token = normalizeReferralToken(token)
	if token == "" {
		return nil, nil
	}
	affiliate, err := s.affiliateRepo.FindActiveByCode(ctx, token)
	if err != nil || affiliate != nil {
		return affiliate, err
	}
	return s.affiliateRepo.FindActiveByAliasToken(ctx, token)
}

func (s *AttributionService) lookupCached(ctx context.Context, customerID string) (AttributionResult, bool) {
	reqCache := attributionCacheFrom(ctx)
	if hit, ok := reqCache.get(customerID); ok {
		return hit, true
	}
	state, hit, err := cache.GetCustomerAttribution(ctx, customerID)
	if err != nil {
		logger.Warnw("attribution_cache_read_failed", "customer_id", customerID, "error", err)
		return AttributionResult{}, false
	}
	if !hit {
		return AttributionResult{}, false
	}
	result := AttributionResult{AffiliateID: state.AffiliateID, Token: state.Token}
	reqCache.put(customerID, result)
	return result, true
}

func (s *AttributionService) remember(ctx context.Context, customerID string, result AttributionResult) {
	if result.AffiliateID == 0 {
		return
	}
	attributionCacheFrom(ctx).put(customerID, result)
	if err := cache.SetCustomerAttribution(ctx, &cache.CustomerAttribution{
		CustomerID:  customerID,
		AffiliateID: result.AffiliateID,
		Token:       result.Token,
	}, s.cacheTTL); err != nil {
		logger.Warnw("attribution_cache_write_failed", "customer_id", customerID, "error", err)
	}
}

// ExtractReferralToken 键优先级为外层循环，候选元数据为内层循环，取第一个非空值
func ExtractReferralToken(candidates []map[string]string, keys []string) string {
	if len(keys) == 0 {
		keys = DefaultReferralMetadataKeys
	}
	for _, key := range keys {
		for _, candidate := range candidates {
			if candidate == nil {
				continue
			}
			if value := strings.TrimSpace(candidate[key]); value != "" {
				return normalizeReferralToken(value)
			}
		}
	}
	return ""
}

func normalizeReferralToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

func normalizeMetadataKeys(keys []string) []string {
	result := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, raw := range keys {
		key := strings.TrimSpace(raw)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, key)
	}
	return result
}
