package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/partnerledger/internal/commerce"
	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/repository"
)

// LegacyExport 旧系统导出数据
type LegacyExport struct {
	Since        time.Time         `json:"since"`
	CutoverMonth string            `json:"cutover_month"`
	Affiliates   []LegacyAffiliate `json:"affiliates"`
	Links        []LegacyLink      `json:"links"`
}

// LegacyAffiliate 旧系统推广方
type LegacyAffiliate struct {
	Code                string                 `json:"code"`
	Name                string                 `json:"name"`
	Email               string                 `json:"email"`
	Tier                int                    `json:"tier"`
	Active              *bool                  `json:"active"`
	QualifyingSaleCount int64                  `json:"qualifying_sale_count"`
	PayoutDestination   map[string]interface{} `json:"payout_destination"`
	Aliases             []string               `json:"aliases"`
}

// LegacyLink 旧系统客户归因
type LegacyLink struct {
	CustomerID    string `json:"customer_id"`
	AffiliateCode string `json:"affiliate_code"`
}

// DecodeLegacyExport 解析 JSON 导出文件
func DecodeLegacyExport(r io.Reader) (*LegacyExport, error) {
	var export LegacyExport
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackfillInvalid, err)
	}
	return &export, nil
}

// BackfillService 历史数据回填
type BackfillService struct {
	sync          *SyncService
	affiliates    *AffiliateService
	affiliateRepo repository.AffiliateRepository
	attribution   *AttributionService
	ledgerRepo    repository.LedgerRepository
	payouts       *PayoutService
}

// NewBackfillService 创建回填服务
func NewBackfillService(
	sync *SyncService,
	affiliates *AffiliateService,
	affiliateRepo repository.AffiliateRepository,
	attribution *AttributionService,
	ledgerRepo repository.LedgerRepository,
	payouts *PayoutService,
) *BackfillService {
	return &BackfillService{
		sync:          sync,
		affiliates:    affiliates,
		affiliateRepo: affiliateRepo,
		attribution:   attribution,
		ledgerRepo:    ledgerRepo,
		payouts:       payouts,
	}
}

// Run 依次导入推广方、归因，重放流水，重算等级，并将切换月之前的结算写为已支付
func (s *BackfillService) Run(ctx context.Context, export LegacyExport, triggeredBy string, reporter ProgressReporter) (*SyncSummary, error) {
	if s.sync == nil {
		return nil, ErrProviderUnavailable
	}
	now := s.sync.now().UTC()
	scheduler := s.payouts.scheduler
	if export.Since.IsZero() || export.Since.After(now) {
		return nil, fmt.Errorf("%w: since must be a past timestamp", ErrBackfillInvalid)
	}
	cutover := strings.TrimSpace(export.CutoverMonth)
	if cutover == "" {
		cutover = scheduler.MonthOf(now)
	}
	if _, _, err := scheduler.MonthBounds(cutover); err != nil {
		return nil, fmt.Errorf("%w: cutover_month %q", ErrBackfillInvalid, export.CutoverMonth)
	}

	since := export.Since.UTC()
	spec := syncRunSpec{
		kind:        constants.SyncKindBackfill,
		source:      constants.SourceBackfill,
		triggeredBy: triggeredBy,
		windowDays:  int(now.Sub(since).Hours() / 24),
		windowStart: since,
		windowEnd:   now,
	}
	return s.sync.execute(ctx, spec, reporter, func(ctx context.Context, run *syncRunState) error {
		if err := s.importAffiliates(ctx, run, export.Affiliates); err != nil {
			return err
		}
		if err := s.importLinks(ctx, run, export.Links); err != nil {
			return err
		}
		params := commerce.ListParams{CreatedGTE: since, CreatedLT: now, PageSize: s.sync.opts.PageSize}
		if err := s.sync.replayLedger(ctx, run, params, ApplyOptions{Source: constants.SourceBackfill, SkipQualifyingSale: true}); err != nil {
			return err
		}
		return s.settlePayouts(ctx, run, cutover, triggeredBy)
	})
}

func (s *BackfillService) importAffiliates(ctx context.Context, run *syncRunState, items []LegacyAffiliate) error {
	step := constants.SyncStepAffiliates
	run.progress(step, fmt.Sprintf("importing %d affiliates", len(items)))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := s.importAffiliate(ctx, run, item)
		s.record(run, step, item.Code, result, err)
	}
	run.progress(step, "step completed")
	return nil
}

func (s *BackfillService) importAffiliate(ctx context.Context, run *syncRunState, item LegacyAffiliate) (string, error) {
	code := normalizeReferralToken(item.Code)
	if !affiliateTokenPattern.MatchString(code) {
		return "", ErrAffiliateCodeInvalid
	}
	affiliate, err := s.affiliateRepo.GetByCode(ctx, code)
	if err != nil {
		return "", err
	}
	result := "existing"
	if affiliate == nil {
		affiliate = &models.Affiliate{
			Code:                code,
			Name:                strings.TrimSpace(item.Name),
			Email:               strings.TrimSpace(item.Email),
			Tier:                clampTier(item.Tier),
			QualifyingSaleCount: item.QualifyingSaleCount,
			Active:              true,
			PayoutDestination:   models.JSON(item.PayoutDestination),
		}
		if err := s.affiliateRepo.Create(ctx, affiliate); err != nil {
			if repository.IsUniqueViolation(err) {
				return "", ErrAffiliateCodeExists
			}
			return "", err
		}
		if item.Active != nil && !*item.Active {
			if err := s.affiliateRepo.Update(ctx, affiliate.ID, map[string]interface{}{"active": false}); err != nil {
				return "", err
			}
		}
		result = "created"
	}

	for _, token := range item.Aliases {
		token = normalizeReferralToken(token)
		existing, err := s.affiliateRepo.GetAliasByToken(ctx, token)
		if err != nil {
			return "", err
		}
		if existing != nil && existing.AffiliateID == affiliate.ID {
			continue
		}
		if _, err := s.affiliates.AddAlias(ctx, affiliate.ID, token); err != nil {
			run.errors.Add(constants.SyncStepAffiliates, code+"/"+token, err)
			s.sync.metrics.AddSyncRecordError(constants.SyncStepAffiliates)
			continue
		}
		run.counter.add(constants.SyncStepAffiliates, "aliases", 1)
	}
	return result, nil
}

func (s *BackfillService) importLinks(ctx context.Context, run *syncRunState, items []LegacyLink) error {
	step := constants.SyncStepLinks
	run.progress(step, fmt.Sprintf("importing %d customer links", len(items)))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := s.importLink(ctx, item)
		s.record(run, step, item.CustomerID, result, err)
	}
	run.progress(step, "step completed")
	return nil
}

func (s *BackfillService) importLink(ctx context.Context, item LegacyLink) (string, error) {
	customerID := strings.TrimSpace(item.CustomerID)
	if customerID == "" {
		return "", fmt.Errorf("%w: customer id is empty", ErrInvalidInput)
	}
	// 旧系统中已停用的推广方同样保留归因
	affiliate, err := s.affiliateRepo.GetByCode(ctx, item.AffiliateCode)
	if err != nil {
		return "", err
	}
	if affiliate == nil {
		return "", fmt.Errorf("%w: %s", ErrAffiliateNotFound, normalizeReferralToken(item.AffiliateCode))
	}
	link, err := s.attribution.LinkCustomer(ctx, customerID, affiliate.ID, affiliate.Code, constants.SourceLegacy)
	if err != nil {
		return "", err
	}
	switch {
	case link == nil:
		return "", fmt.Errorf("%w: link not stored", ErrInvalidInput)
	case link.Created:
		return "linked", nil
	case link.AffiliateID != affiliate.ID:
		return "conflict", nil
	default:
		return "existing", nil
	}
}

// settlePayouts 切换月之前的月份直接记为已支付
func (s *BackfillService) settlePayouts(ctx context.Context, run *syncRunState, cutover, paidBy string) error {
	step := constants.SyncStepPayouts
	earliest, err := s.ledgerRepo.EarliestAvailableAt(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	if earliest == nil {
		run.progress(step, "no ledger rows to settle")
		return nil
	}
	scheduler := s.payouts.scheduler
	month := scheduler.MonthOf(*earliest)
	run.progress(step, fmt.Sprintf("settling %s until %s", month, cutover))
	for month < cutover {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := s.payouts.AggregateMonthAsPaid(ctx, month, paidBy)
		if err != nil {
			return fmt.Errorf("%s: %w", step, err)
		}
		run.counter.add(step, "months", 1)
		run.counter.add(step, "written", int64(result.Written))
		run.counter.add(step, "skipped_paid", int64(result.SkippedPaid))
		_, next, err := scheduler.MonthBounds(month)
		if err != nil {
			return fmt.Errorf("%s: %w", step, err)
		}
		month = scheduler.MonthOf(next)
	}
	run.progress(step, "step completed")
	return nil
}

func (s *BackfillService) record(run *syncRunState, step, ref, result string, err error) {
	if err != nil {
		run.errors.Add(step, ref, err)
		run.counter.add(step, "errors", 1)
		s.sync.metrics.AddSyncRecordError(step)
		logger.Warnw("backfill_record_failed", "step", step, "ref", ref, "error", err)
		return
	}
	run.counter.add(step, result, 1)
}

func clampTier(tier int) int {
	switch {
	case tier >= constants.AffiliateTierGold:
		return constants.AffiliateTierGold
	case tier == constants.AffiliateTierSilver:
		return constants.AffiliateTierSilver
	default:
		return constants.AffiliateTierBase
	}
}
