package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/partnerledger/internal/commerce"
	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/metrics"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/repository"

	"github.com/google/uuid"
)

const (
	syncIncrementalWindowDaysDefault = 3
	syncResyncMaxDaysDefault         = 365
	syncPageTimeoutDefault           = 30 * time.Second
	syncRunTimeoutDefault            = 30 * time.Minute
)

// SyncOptions 同步参数
type SyncOptions struct {
	IncrementalWindowDays int
	ResyncMaxDays         int
	MaxErrors             int
	PageSize              int
	PageTimeout           time.Duration
	RunTimeout            time.Duration
}

func (o SyncOptions) withDefaults() SyncOptions {
	if o.IncrementalWindowDays <= 0 {
		o.IncrementalWindowDays = syncIncrementalWindowDaysDefault
	}
	if o.ResyncMaxDays <= 0 {
		o.ResyncMaxDays = syncResyncMaxDaysDefault
	}
	if o.MaxErrors <= 0 {
		o.MaxErrors = syncMaxErrorsDefault
	}
	if o.PageTimeout <= 0 {
		o.PageTimeout = syncPageTimeoutDefault
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = syncRunTimeoutDefault
	}
	return o
}

// SyncService 增量同步与按需重同步
type SyncService struct {
	provider   commerce.Provider
	ledger     *LedgerService
	affiliates *AffiliateService
	runRepo    repository.SyncRunRepository
	metrics    *metrics.Metrics
	opts       SyncOptions
	now        func() time.Time
}

// NewSyncService 创建同步服务
func NewSyncService(
	provider commerce.Provider,
	ledger *LedgerService,
	affiliates *AffiliateService,
	runRepo repository.SyncRunRepository,
	m *metrics.Metrics,
	opts SyncOptions,
) *SyncService {
	return &SyncService{
		provider:   provider,
		ledger:     ledger,
		affiliates: affiliates,
		runRepo:    runRepo,
		metrics:    m,
		opts:       opts.withDefaults(),
		now:        time.Now,
	}
}

// RunTimeout 调度触发时的整体超时
func (s *SyncService) RunTimeout() time.Duration {
	return s.opts.RunTimeout
}

// ResyncMaxDays 重同步允许的最大天数
func (s *SyncService) ResyncMaxDays() int {
	return s.opts.ResyncMaxDays
}

// RunIncremental 按固定窗口执行增量同步
func (s *SyncService) RunIncremental(ctx context.Context, triggeredBy string) (*SyncSummary, error) {
	days := s.opts.IncrementalWindowDays
	end := s.now().UTC()
	start := end.AddDate(0, 0, -days)
	spec := syncRunSpec{
		kind:        constants.SyncKindIncremental,
		source:      constants.SourceIncrementalSync,
		triggeredBy: triggeredBy,
		windowDays:  days,
		windowStart: start,
		windowEnd:   end,
	}
	return s.execute(ctx, spec, nil, func(ctx context.Context, run *syncRunState) error {
		return s.runWindow(ctx, run, start, end)
	})
}

// RunResync 按运营指定天数执行重同步，不可断点续跑
func (s *SyncService) RunResync(ctx context.Context, days int, triggeredBy string, reporter ProgressReporter) (*SyncSummary, error) {
	if days < 1 || days > s.opts.ResyncMaxDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrResyncDaysInvalid, s.opts.ResyncMaxDays)
	}
	end := s.now().UTC()
	start := end.AddDate(0, 0, -days)
	spec := syncRunSpec{
		kind:        constants.SyncKindResync,
		source:      constants.SourceResync,
		triggeredBy: triggeredBy,
		windowDays:  days,
		windowStart: start,
		windowEnd:   end,
	}
	return s.execute(ctx, spec, reporter, func(ctx context.Context, run *syncRunState) error {
		return s.runWindow(ctx, run, start, end)
	})
}

// ListRuns 查询运行记录
func (s *SyncService) ListRuns(ctx context.Context, filter repository.SyncRunListFilter) ([]models.SyncRun, int64, error) {
	return s.runRepo.List(ctx, filter)
}

// CancelStaleRuns 进程启动时将遗留的运行中记录标记为已取消
func (s *SyncService) CancelStaleRuns(ctx context.Context) (int64, error) {
	return s.runRepo.CancelRunning(ctx, s.now().UTC(), "interrupted by process restart; rerun from the beginning")
}

type syncRunSpec struct {
	kind        string
	source      string
	triggeredBy string
	windowDays  int
	windowStart time.Time
	windowEnd   time.Time
}

type syncRunState struct {
	spec     syncRunSpec
	counter  *syncCounter
	errors   *BatchErrors
	reporter ProgressReporter
}

func (r *syncRunState) progress(step, message string) {
	r.reporter.report(step, message, r.counter.step(step))
}

func (s *SyncService) execute(
	ctx context.Context,
	spec syncRunSpec,
	reporter ProgressReporter,
	body func(ctx context.Context, run *syncRunState) error,
) (*SyncSummary, error) {
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}
	startedAt := s.now().UTC()
	record := &models.SyncRun{
		RunID:       uuid.NewString(),
		Kind:        spec.kind,
		WindowDays:  spec.windowDays,
		TriggeredBy: spec.triggeredBy,
		Status:      constants.SyncStatusRunning,
		Counts:      models.JSON{},
		StartedAt:   startedAt,
	}
	if !spec.windowStart.IsZero() {
		windowStart, windowEnd := spec.windowStart, spec.windowEnd
		record.WindowStart = &windowStart
		record.WindowEnd = &windowEnd
	}
	if err := s.runRepo.Create(ctx, record); err != nil {
		return nil, err
	}
	logger.Infow("sync_run_started",
		"run_id", record.RunID,
		"kind", spec.kind,
		"window_days", spec.windowDays,
		"triggered_by", spec.triggeredBy,
	)

	run := &syncRunState{
		spec:     spec,
		counter:  newSyncCounter(),
		errors:   NewBatchErrors(s.opts.MaxErrors),
		reporter: reporter,
	}
	runCtx := WithAttributionCache(ctx, NewAttributionCache())
	runErr := body(runCtx, run)

	finishedAt := s.now().UTC()
	status := constants.SyncStatusSucceeded
	switch {
	case runErr != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)):
		status = constants.SyncStatusCanceled
	case runErr != nil:
		status = constants.SyncStatusFailed
	case run.errors.Total() > 0:
		status = constants.SyncStatusPartial
	}

	counts := run.counter.snapshot()
	items := run.errors.Items()
	errorMessage := joinErrorSummary(items, run.errors.Total())
	if runErr != nil {
		errorMessage = joinErrorSummary(append([]string{"fatal: " + runErr.Error()}, items...), run.errors.Total()+1)
	}
	record.Status = status
	record.Counts = countsToJSON(counts)
	record.ErrorCount = run.errors.Total()
	record.ErrorMessage = errorMessage
	record.FinishedAt = &finishedAt
	// 取消后的运行仍需落库
	if err := s.runRepo.Finish(context.WithoutCancel(ctx), record); err != nil {
		logger.Errorw("sync_run_finish_failed", "run_id", record.RunID, "error", err)
	}
	s.metrics.ObserveSyncRun(spec.kind, status, finishedAt.Sub(startedAt))

	summary := &SyncSummary{
		RunID:       record.RunID,
		Kind:        spec.kind,
		Status:      status,
		TriggeredBy: spec.triggeredBy,
		WindowDays:  spec.windowDays,
		WindowStart: record.WindowStart,
		WindowEnd:   record.WindowEnd,
		Counts:      counts,
		Errors:      items,
		ErrorTotal:  run.errors.Total(),
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
	}
	fields := []interface{}{
		"run_id", record.RunID,
		"kind", spec.kind,
		"status", status,
		"error_total", summary.ErrorTotal,
		"duration_ms", finishedAt.Sub(startedAt).Milliseconds(),
	}
	if runErr != nil {
		logger.Warnw("sync_run_finished", append(fields, "error", runErr)...)
		return summary, runErr
	}
	logger.Infow("sync_run_finished", fields...)
	return summary, nil
}

// runWindow 依次处理客户、订阅、账单、退款、争议并在最后重算等级
func (s *SyncService) runWindow(ctx context.Context, run *syncRunState, start, end time.Time) error {
	params := commerce.ListParams{CreatedGTE: start, CreatedLT: end, PageSize: s.opts.PageSize}
	opts := ApplyOptions{Source: run.spec.source}

	if err := s.syncCustomers(ctx, run, params, opts); err != nil {
		return err
	}
	if err := s.syncSubscriptions(ctx, run, params, opts); err != nil {
		return err
	}
	return s.replayLedger(ctx, run, params, opts)
}

// replayLedger 账单、退款、争议与等级重算，回填与窗口同步共用
func (s *SyncService) replayLedger(ctx context.Context, run *syncRunState, params commerce.ListParams, opts ApplyOptions) error {
	if err := s.syncInvoices(ctx, run, params, opts); err != nil {
		return err
	}
	if err := s.syncRefunds(ctx, run, params, opts); err != nil {
		return err
	}
	if err := s.syncDisputes(ctx, run, params, opts); err != nil {
		return err
	}
	if opts.SkipQualifyingSale {
		s.reconcileQualifyingSales(ctx, run)
	}
	return s.recomputeTiers(ctx, run)
}

func (s *SyncService) syncCustomers(ctx context.Context, run *syncRunState, params commerce.ListParams, opts ApplyOptions) error {
	step := constants.SyncStepCustomers
	run.progress(step, "scanning customers")
	err := commerce.EachCustomer(ctx, s.provider, params, s.opts.PageTimeout, func(customer commerce.Customer) error {
		outcome, err := s.ledger.ApplyCustomer(ctx, customer, opts)
		return s.recordItem(ctx, run, step, customer.ID, outcome, err)
	})
	return s.finishStep(run, step, err)
}

func (s *SyncService) syncSubscriptions(ctx context.Context, run *syncRunState, params commerce.ListParams, opts ApplyOptions) error {
	step := constants.SyncStepSubscriptions
	run.progress(step, "scanning subscriptions")
	err := commerce.EachSubscription(ctx, s.provider, params, s.opts.PageTimeout, func(sub commerce.Subscription) error {
		outcome, err := s.ledger.ApplySubscription(ctx, sub, opts)
		return s.recordItem(ctx, run, step, sub.ID, outcome, err)
	})
	return s.finishStep(run, step, err)
}

func (s *SyncService) syncInvoices(ctx context.Context, run *syncRunState, params commerce.ListParams, opts ApplyOptions) error {
	step := constants.SyncStepInvoices
	run.progress(step, "scanning paid invoices")
	err := commerce.EachInvoice(ctx, s.provider, params, s.opts.PageTimeout, func(inv commerce.Invoice) error {
		outcome, err := s.ledger.ApplyInvoicePaid(ctx, inv, opts)
		return s.recordItem(ctx, run, step, inv.ID, outcome, err)
	})
	return s.finishStep(run, step, err)
}

func (s *SyncService) syncRefunds(ctx context.Context, run *syncRunState, params commerce.ListParams, opts ApplyOptions) error {
	step := constants.SyncStepRefunds
	run.progress(step, "scanning refunds")
	err := commerce.EachRefund(ctx, s.provider, params, s.opts.PageTimeout, func(refund commerce.Refund) error {
		outcome, err := s.ledger.ApplyRefund(ctx, refund, opts)
		return s.recordItem(ctx, run, step, refund.ChargeID, outcome, err)
	})
	return s.finishStep(run, step, err)
}

func (s *SyncService) syncDisputes(ctx context.Context, run *syncRunState, params commerce.ListParams, opts ApplyOptions) error {
	step := constants.SyncStepDisputes
	run.progress(step, "scanning disputes")
	err := commerce.EachDispute(ctx, s.provider, params, s.opts.PageTimeout, func(dispute commerce.Dispute) error {
		outcome, err := s.ledger.ApplyDispute(ctx, dispute, opts)
		return s.recordItem(ctx, run, step, dispute.ChargeID, outcome, err)
	})
	return s.finishStep(run, step, err)
}

func (s *SyncService) reconcileQualifyingSales(ctx context.Context, run *syncRunState) {
	step := constants.SyncStepTiers
	if s.affiliates == nil {
		return
	}
	updated, err := s.affiliates.ReconcileQualifyingSales(ctx)
	if err != nil {
		run.errors.Add(step, "qualifying_sales", err)
		s.metrics.AddSyncRecordError(step)
		return
	}
	run.counter.add(step, "qualifying_reconciled", updated)
}

func (s *SyncService) recomputeTiers(ctx context.Context, run *syncRunState) error {
	step := constants.SyncStepTiers
	if s.affiliates == nil {
		return nil
	}
	run.progress(step, "recomputing tiers")
	result, err := s.affiliates.RecomputeTiers(ctx)
	if err != nil {
		run.errors.Add(step, "-", err)
		s.metrics.AddSyncRecordError(step)
		return nil
	}
	run.counter.add(step, "promoted_silver", result.PromotedSilver)
	run.counter.add(step, "promoted_gold", result.PromotedGold)
	run.progress(step, "tiers recomputed")
	return nil
}

// recordItem 单条失败只记录不中断；context 取消时中断整个运行
func (s *SyncService) recordItem(ctx context.Context, run *syncRunState, step, ref string, outcome ApplyOutcome, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		run.errors.Add(step, ref, err)
		run.counter.add(step, "errors", 1)
		s.metrics.AddSyncRecordError(step)
		logger.Warnw("sync_record_failed", "step", step, "ref", ref, "error", err)
		return nil
	}
	run.counter.add(step, string(outcome), 1)
	return nil
}

func (s *SyncService) finishStep(run *syncRunState, step string, err error) error {
	if err != nil {
		run.progress(step, "step aborted: "+err.Error())
		return fmt.Errorf("%s: %w", step, err)
	}
	run.progress(step, "step completed")
	return nil
}

func countsToJSON(counts map[string]int64) models.JSON {
	result := make(models.JSON, len(counts))
	for k, v := range counts {
		result[k] = v
	}
	return result
}
