package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/repository"

	"gorm.io/gorm"
)

const (
	affiliateCodeLength   = 8
	affiliateCodeMaxRetry = 8
)

var affiliateTokenPattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

// AffiliateService 推广方注册表业务服务
type AffiliateService struct {
	repo            repository.AffiliateRepository
	attributionRepo repository.AttributionRepository
	settingService  *SettingService
}

// NewAffiliateService 创建推广方服务
func NewAffiliateService(
	repo repository.AffiliateRepository,
	attributionRepo repository.AttributionRepository,
	settingService *SettingService,
) *AffiliateService {
	return &AffiliateService{
		repo:            repo,
		attributionRepo: attributionRepo,
		settingService:  settingService,
	}
}

// AffiliateCreateInput 创建推广方输入
type AffiliateCreateInput struct {
	Code              string
	Name              string
	Email             string
	PayoutDestination map[string]interface{}
}

// AffiliateUpdateInput 更新推广方输入
type AffiliateUpdateInput struct {
	Name              *string
	Email             *string
	Active            *bool
	PayoutDestination map[string]interface{}
}

// TierRecomputeResult 等级重算结果
type TierRecomputeResult struct {
	PromotedSilver int64 `json:"promoted_silver"`
	PromotedGold   int64 `json:"promoted_gold"`
}

// Total 本次提升的推广方数量
func (r TierRecomputeResult) Total() int64 {
	return r.PromotedSilver + r.PromotedGold
}

// CreateAffiliate 创建推广方，推广码为空时自动生成
func (s *AffiliateService) CreateAffiliate(ctx context.Context, input AffiliateCreateInput) (*models.Affiliate, error) {
	code := normalizeReferralToken(input.Code)
	if code != "" {
		if !affiliateTokenPattern.MatchString(code) {
			return nil, ErrAffiliateCodeInvalid
		}
		return s.createWithCode(ctx, code, input)
	}
	for i := 0; i < affiliateCodeMaxRetry; i++ {
		generated, err := generateAffiliateCode()
		if err != nil {
			return nil, err
		}
		affiliate, err := s.createWithCode(ctx, generated, input)
		if errors.Is(err, ErrAffiliateCodeExists) {
			continue
		}
		return affiliate, err
	}
	return nil, ErrAffiliateCodeInvalid
}

func (s *AffiliateService) createWithCode(ctx context.Context, code string, input AffiliateCreateInput) (*models.Affiliate, error) {
	alias, err := s.repo.GetAliasByToken(ctx, code)
	if err != nil {
		return nil, err
	}
	if alias != nil {
		return nil, ErrAffiliateCodeExists
	}
	affiliate := &models.Affiliate{
		Code:              code,
		Name:              strings.TrimSpace(input.Name),
		Email:             strings.TrimSpace(input.Email),
		Tier:              constants.AffiliateTierBase,
		Active:            true,
		PayoutDestination: models.JSON(input.PayoutDestination),
	}
	if err := s.repo.Create(ctx, affiliate); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrAffiliateCodeExists
		}
		return nil, err
	}
	logger.Infow("affiliate_created", "affiliate_id", affiliate.ID, "code", affiliate.Code)
	return affiliate, nil
}

// GetAffiliate 获取推广方及其别名
func (s *AffiliateService) GetAffiliate(ctx context.Context, id uint) (*models.Affiliate, error) {
	affiliate, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if affiliate == nil {
		return nil, ErrAffiliateNotFound
	}
	aliases, err := s.repo.ListAliases(ctx, id)
	if err != nil {
		return nil, err
	}
	affiliate.Aliases = aliases
	return affiliate, nil
}

// UpdateAffiliate 更新资料、启用状态与收款信息
func (s *AffiliateService) UpdateAffiliate(ctx context.Context, id uint, input AffiliateUpdateInput) (*models.Affiliate, error) {
	affiliate, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if affiliate == nil {
		return nil, ErrAffiliateNotFound
	}
	updates := map[string]interface{}{}
	if input.Name != nil {
		updates["name"] = strings.TrimSpace(*input.Name)
	}
	if input.Email != nil {
		updates["email"] = strings.TrimSpace(*input.Email)
	}
	if input.Active != nil {
		updates["active"] = *input.Active
	}
	if input.PayoutDestination != nil {
		updates["payout_destination"] = models.JSON(input.PayoutDestination)
	}
	if len(updates) == 0 {
		return affiliate, nil
	}
	updates["updated_at"] = time.Now()
	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, err
	}
	return s.GetAffiliate(ctx, id)
}

// ListAffiliates 分页查询推广方
func (s *AffiliateService) ListAffiliates(ctx context.Context, filter repository.AffiliateListFilter) ([]models.Affiliate, int64, error) {
	return s.repo.List(ctx, filter)
}

// ListLinks 分页查询客户归因
func (s *AffiliateService) ListLinks(ctx context.Context, filter repository.LinkListFilter) ([]models.CustomerAffiliateLink, int64, error) {
	return s.attributionRepo.ListLinks(ctx, filter)
}

// AddAlias 新增别名：最多 3 个生效别名，不得与推广码重复，撤销过的 token 不可复用
func (s *AffiliateService) AddAlias(ctx context.Context, affiliateID uint, token string) (*models.AffiliateAlias, error) {
	token = normalizeReferralToken(token)
	if !affiliateTokenPattern.MatchString(token) {
		return nil, ErrAffiliateCodeInvalid
	}
	var created *models.AffiliateAlias
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		affiliate, err := repo.GetByID(ctx, affiliateID)
		if err != nil {
			return err
		}
		if affiliate == nil {
			return ErrAffiliateNotFound
		}
		owner, err := repo.GetByCode(ctx, token)
		if err != nil {
			return err
		}
		if owner != nil {
			return ErrAliasTokenTaken
		}
		existing, err := repo.GetAliasByToken(ctx, token)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAliasTokenTaken
		}
		live, err := repo.CountLiveAliases(ctx, affiliateID)
		if err != nil {
			return err
		}
		if live >= constants.AffiliateAliasMaxLive {
			return ErrAliasLimitReached
		}
		alias := &models.AffiliateAlias{AffiliateID: affiliateID, Token: token}
		if err := repo.CreateAlias(ctx, alias); err != nil {
			if repository.IsUniqueViolation(err) {
				return ErrAliasTokenTaken
			}
			return err
		}
		created = alias
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Infow("affiliate_alias_created", "affiliate_id", affiliateID, "token", token)
	return created, nil
}

// RevokeAlias 撤销别名
func (s *AffiliateService) RevokeAlias(ctx context.Context, affiliateID uint, token string) error {
	rows, err := s.repo.RevokeAlias(ctx, affiliateID, token, time.Now())
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAliasNotFound
	}
	logger.Infow("affiliate_alias_revoked", "affiliate_id", affiliateID, "token", normalizeReferralToken(token))
	return nil
}

// ReconcileQualifyingSales 按账本重建有效成交数，只增不减
func (s *AffiliateService) ReconcileQualifyingSales(ctx context.Context) (int64, error) {
	updated, err := s.repo.ReconcileQualifyingSales(ctx)
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		logger.Infow("affiliate_qualifying_sales_reconciled", "updated", updated)
	}
	return updated, nil
}

// RecomputeTiers 按有效成交数提升等级，只升不降
func (s *AffiliateService) RecomputeTiers(ctx context.Context) (TierRecomputeResult, error) {
	policy, err := s.settingService.GetCommissionPolicy(ctx)
	if err != nil {
		return TierRecomputeResult{}, err
	}
	var result TierRecomputeResult
	err = s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		gold, err := repo.PromoteTier(ctx, constants.AffiliateTierGold, policy.Tier3Threshold)
		if err != nil {
			return fmt.Errorf("promote gold: %w", err)
		}
		silver, err := repo.PromoteTier(ctx, constants.AffiliateTierSilver, policy.Tier2Threshold)
		if err != nil {
			return fmt.Errorf("promote silver: %w", err)
		}
		result = TierRecomputeResult{PromotedSilver: silver, PromotedGold: gold}
		return nil
	})
	if err != nil {
		return TierRecomputeResult{}, err
	}
	if result.Total() > 0 {
		logger.Infow("affiliate_tiers_promoted",
			"silver", result.PromotedSilver,
			"gold", result.PromotedGold,
		)
	}
	return result, nil
}

func generateAffiliateCode() (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	var builder strings.Builder
	builder.Grow(affiliateCodeLength)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < affiliateCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		builder.WriteByte(alphabet[n.Int64()])
	}
	return builder.String(), nil
}
