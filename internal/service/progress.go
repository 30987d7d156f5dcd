package service

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const syncMaxErrorsDefault = 50

// ProgressUpdate 同步进度
type ProgressUpdate struct {
	Step    string           `json:"step"`
	Message string           `json:"message"`
	Counts  map[string]int64 `json:"counts,omitempty"`
}

// ProgressReporter 进度回调
type ProgressReporter func(ProgressUpdate)

func (r ProgressReporter) report(step, message string, counts map[string]int64) {
	if r == nil {
		return
	}
	r(ProgressUpdate{Step: step, Message: message, Counts: counts})
}

// SyncSummary 同步运行摘要
type SyncSummary struct {
	RunID       string           `json:"run_id"`
	Kind        string           `json:"kind"`
	Status      string           `json:"status"`
	TriggeredBy string           `json:"triggered_by"`
	WindowDays  int              `json:"window_days,omitempty"`
	WindowStart *time.Time       `json:"window_start,omitempty"`
	WindowEnd   *time.Time       `json:"window_end,omitempty"`
	Counts      map[string]int64 `json:"counts"`
	Errors      []string         `json:"errors"`
	ErrorTotal  int              `json:"error_total"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
}

// BatchErrors 单条记录错误集合，仅保留前 limit 条明细
type BatchErrors struct {
	mu    sync.Mutex
	limit int
	items []string
	total int
}

// NewBatchErrors 创建错误集合
func NewBatchErrors(limit int) *BatchErrors {
	if limit <= 0 {
		limit = syncMaxErrorsDefault
	}
	return &BatchErrors{limit: limit}
}

// Add 记录一条错误
func (b *BatchErrors) Add(step, ref string, err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total++
	if len(b.items) < b.limit {
		b.items = append(b.items, fmt.Sprintf("%s %s: %v", step, ref, err))
	}
}

// Items 返回保留的错误明细
func (b *BatchErrors) Items() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.items...)
}

// Total 返回错误总数
func (b *BatchErrors) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// syncCounter 按 "<step>_<outcome>" 计数
type syncCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newSyncCounter() *syncCounter {
	return &syncCounter{counts: make(map[string]int64)}
}

func (c *syncCounter) add(step, key string, n int64) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[step+"_"+key] += n
}

func (c *syncCounter) snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		result[k] = v
	}
	return result
}

func (c *syncCounter) step(step string) map[string]int64 {
	prefix := step + "_"
	result := make(map[string]int64)
	for k, v := range c.snapshot() {
		if strings.HasPrefix(k, prefix) {
			result[k] = v
		}
	}
	return result
}

func joinErrorSummary(items []string, total int) string {
	if total == 0 {
		return ""
	}
	message := strings.Join(items, "\n")
	if hidden := total - len(items); hidden > 0 {
		message += fmt.Sprintf("\n... and %d more", hidden)
	}
	return message
}
