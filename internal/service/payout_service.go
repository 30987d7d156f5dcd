package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/metrics"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/repository"

	"gorm.io/gorm"
)

// PayoutService 月度结算汇总服务
type PayoutService struct {
	repo       repository.PayoutRepository
	ledgerRepo repository.LedgerRepository
	scheduler  *AvailabilityScheduler
	metrics    *metrics.Metrics
}

// NewPayoutService 创建结算服务
func NewPayoutService(
	repo repository.PayoutRepository,
	ledgerRepo repository.LedgerRepository,
	scheduler *AvailabilityScheduler,
	m *metrics.Metrics,
) *PayoutService {
	if scheduler == nil {
		scheduler = DefaultAvailabilityScheduler()
	}
	return &PayoutService{
		repo:       repo,
		ledgerRepo: ledgerRepo,
		scheduler:  scheduler,
		metrics:    m,
	}
}

// PayoutAggregateResult 月度汇总结果
type PayoutAggregateResult struct {
	Month       string `json:"month"`
	Affiliates  int    `json:"affiliates"`
	Written     int    `json:"written"`
	SkippedPaid int    `json:"skipped_paid"`
}

// MarkPaidResult 标记支付结果
type MarkPaidResult struct {
	Month       string `json:"month"`
	Marked      int64  `json:"marked"`
	AlreadyPaid int    `json:"already_paid"`
}

// AggregateMonth 汇总指定月份可结算流水，已支付的行不受影响
func (s *PayoutService) AggregateMonth(ctx context.Context, month string) (PayoutAggregateResult, error) {
	return s.aggregate(ctx, month, false, "")
}

// AggregateMonthAsPaid 历史回填：汇总并直接写为已支付
func (s *PayoutService) AggregateMonthAsPaid(ctx context.Context, month, paidBy string) (PayoutAggregateResult, error) {
	return s.aggregate(ctx, month, true, paidBy)
}

// AggregateRecent 汇总当前与上一个结算月份
func (s *PayoutService) AggregateRecent(ctx context.Context, now time.Time) ([]PayoutAggregateResult, error) {
	current := s.scheduler.MonthOf(now)
	start, _, err := s.scheduler.MonthBounds(current)
	if err != nil {
		return nil, err
	}
	previous := s.scheduler.MonthOf(start.AddDate(0, 0, -1))

	results := make([]PayoutAggregateResult, 0, 2)
	for _, month := range []string{previous, current} {
		result, err := s.AggregateMonth(ctx, month)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *PayoutService) aggregate(ctx context.Context, month string, asPaid bool, paidBy string) (PayoutAggregateResult, error) {
	month = strings.TrimSpace(month)
	start, next, err := s.scheduler.MonthBounds(month)
	if err != nil {
		return PayoutAggregateResult{}, err
	}
	sums, err := s.ledgerRepo.AggregateByAffiliate(ctx, start, next)
	if err != nil {
		return PayoutAggregateResult{}, err
	}

	result := PayoutAggregateResult{Month: month, Affiliates: len(sums)}
	source := constants.PayoutSourceAggregator
	if asPaid {
		source = constants.PayoutSourceBackfill
	}
	for _, sum := range sums {
		row := &models.MonthlyPayout{
			Month:                month,
			AffiliateID:          sum.AffiliateID,
			TotalCommissionCents: sum.CommissionCents,
			TotalNegativeCents:   sum.NegativeCents,
			TotalPayableCents:    PayableCents(sum.CommissionCents, sum.NegativeCents),
			TransactionCount:     sum.TxCount,
		}
		var written bool
		if asPaid {
			row.PaidBy = strings.TrimSpace(paidBy)
			written, err = s.repo.UpsertBackfillPaid(ctx, row)
		} else {
			written, err = s.repo.UpsertAggregate(ctx, row)
		}
		if err != nil {
			return result, fmt.Errorf("upsert payout %s/%d: %w", month, sum.AffiliateID, err)
		}
		if written {
			result.Written++
		} else {
			result.SkippedPaid++
		}
	}
	s.metrics.AddPayoutRows(source, result.Written)
	logger.Infow("payout_month_aggregated",
		"month", month,
		"source", source,
		"affiliates", result.Affiliates,
		"written", result.Written,
		"skipped_paid", result.SkippedPaid,
	)
	return result, nil
}

// MarkPaid 将指定推广方的月度结算标记为已支付；任一行不存在时整体失败
func (s *PayoutService) MarkPaid(ctx context.Context, month string, affiliateIDs []uint, paidBy string) (MarkPaidResult, error) {
	month = strings.TrimSpace(month)
	if _, _, err := s.scheduler.MonthBounds(month); err != nil {
		return MarkPaidResult{}, err
	}
	ids := normalizeAffiliateIDs(affiliateIDs)
	if len(ids) == 0 {
		return MarkPaidResult{}, fmt.Errorf("%w: affiliate_ids is empty", ErrInvalidInput)
	}

	result := MarkPaidResult{Month: month}
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.ListForUpdate(ctx, month, ids)
		if err != nil {
			return err
		}
		if len(rows) != len(ids) {
			return fmt.Errorf("%w: %s", ErrPayoutNotFound, missingPayoutIDs(ids, rows))
		}
		pending := make([]uint, 0, len(rows))
		for _, row := range rows {
			if row.Status == constants.PayoutStatusPaid {
				result.AlreadyPaid++
				continue
			}
			pending = append(pending, row.ID)
		}
		marked, err := repo.MarkPaid(ctx, pending, time.Now().UTC(), paidBy)
		if err != nil {
			return err
		}
		result.Marked = marked
		return nil
	})
	if err != nil {
		return MarkPaidResult{}, err
	}
	s.metrics.AddPayoutsMarked(result.Marked)
	logger.Infow("payout_marked_paid",
		"month", month,
		"paid_by", paidBy,
		"marked", result.Marked,
		"already_paid", result.AlreadyPaid,
	)
	return result, nil
}

// ListPayouts 查询月度结算
func (s *PayoutService) ListPayouts(ctx context.Context, filter repository.PayoutListFilter) ([]models.MonthlyPayout, int64, error) {
	return s.repo.List(ctx, filter)
}

// ListTransactions 查询佣金流水
func (s *PayoutService) ListTransactions(ctx context.Context, filter repository.TransactionListFilter) ([]models.CommissionTransaction, int64, error) {
	return s.ledgerRepo.List(ctx, filter)
}

// PayableCents 应付金额 = max(佣金 - 冲正, 0)
func PayableCents(commissionCents, negativeCents int64) int64 {
	if negativeCents < 0 {
		negativeCents = -negativeCents
	}
	payable := commissionCents - negativeCents
	if payable < 0 {
		return 0
	}
	return payable
}

func normalizeAffiliateIDs(ids []uint) []uint {
	result := make([]uint, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func missingPayoutIDs(ids []uint, rows []models.MonthlyPayout) string {
	found := make(map[uint]struct{}, len(rows))
	for _, row := range rows {
		found[row.AffiliateID] = struct{}{}
	}
	missing := make([]string, 0)
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, fmt.Sprintf("%d", id))
		}
	}
	return "affiliate_ids=" + strings.Join(missing, ",")
}
