package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 账本、入库、同步与结算指标
type Metrics struct {
	ledgerOutcomes   *prometheus.CounterVec
	ledgerCents      *prometheus.CounterVec
	ingestionEvents  *prometheus.CounterVec
	syncRuns         *prometheus.CounterVec
	syncDuration     *prometheus.HistogramVec
	syncRecordErrors *prometheus.CounterVec
	payoutRows       *prometheus.CounterVec
	payoutsMarked    prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default 返回注册在默认 Registerer 上的单例
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New 在指定 Registerer 上创建指标
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ledgerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerledger_ledger_outcomes_total",
			Help: "Ledger apply outcomes by event kind.",
		}, []string{"kind", "outcome"}),
		ledgerCents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerledger_ledger_commission_cents_total",
			Help: "Absolute commission cents booked by transaction type.",
		}, []string{"type"}),
		ingestionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerledger_ingestion_events_total",
			Help: "Webhook events by processing result.",
		}, []string{"result"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerledger_sync_runs_total",
			Help: "Sync runs by kind and final status.",
		}, []string{"kind", "status"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partnerledger_sync_run_duration_seconds",
			Help:    "Sync run latency by kind.",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"kind"}),
		syncRecordErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerledger_sync_record_errors_total",
			Help: "Per-record errors during sync steps.",
		}, []string{"step"}),
		payoutRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partnerledger_payout_rows_total",
			Help: "Monthly payout rows written by source.",
		}, []string{"source"}),
		payoutsMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partnerledger_payouts_marked_paid_total",
			Help: "Monthly payout rows transitioned to paid.",
		}),
	}
	registerer.MustRegister(
		m.ledgerOutcomes,
		m.ledgerCents,
		m.ingestionEvents,
		m.syncRuns,
		m.syncDuration,
		m.syncRecordErrors,
		m.payoutRows,
		m.payoutsMarked,
	)
	return m
}

// ObserveLedgerOutcome 记录一次账本处理结果
func (m *Metrics) ObserveLedgerOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.ledgerOutcomes.WithLabelValues(kind, outcome).Inc()
}

// AddCommissionCents 累加入账佣金（取绝对值）
func (m *Metrics) AddCommissionCents(txType string, cents int64) {
	if m == nil {
		return
	}
	if cents < 0 {
		cents = -cents
	}
	m.ledgerCents.WithLabelValues(txType).Add(float64(cents))
}

// ObserveIngestion 记录 webhook 事件处理结果
func (m *Metrics) ObserveIngestion(result string) {
	if m == nil {
		return
	}
	m.ingestionEvents.WithLabelValues(result).Inc()
}

// ObserveSyncRun 记录同步运行结果与耗时
func (m *Metrics) ObserveSyncRun(kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(kind, status).Inc()
	m.syncDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) AddSyncRecordError(step string) {
	if m == nil {
		return
	}
	m.syncRecordErrors.WithLabelValues(step).Inc()
}

// AddPayoutRows 累加写入的结算行数
func (m *Metrics) AddPayoutRows(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.payoutRows.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) AddPayoutsMarked(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.payoutsMarked.Add(float64(n))
}
