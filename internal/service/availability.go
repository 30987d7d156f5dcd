package service

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/partnerledger/internal/constants"
)

const (
	availabilityTimezoneDefault = "America/New_York"
	availabilityHourDefault     = 12
	availabilityEarlyCutoffDay  = 15
	availabilityEarlyDay        = 5
	availabilityLateDay         = 20
)

// AvailabilityScheduler 计算佣金可提现时间与结算月份边界
type AvailabilityScheduler struct {
	loc  *time.Location
	hour int
}

// NewAvailabilityScheduler 创建可提现时间计算器
func NewAvailabilityScheduler(timezone string, hour int) (*AvailabilityScheduler, error) {
	name := strings.TrimSpace(timezone)
	if name == "" {
		name = availabilityTimezoneDefault
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: 时区 %q 无效: %v", ErrLedgerConfigInvalid, name, err)
	}
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("%w: 可提现时刻必须在 0-23 之间", ErrLedgerConfigInvalid)
	}
	return &AvailabilityScheduler{loc: loc, hour: hour}, nil
}

// DefaultAvailabilityScheduler 默认时区与时刻
func DefaultAvailabilityScheduler() *AvailabilityScheduler {
	scheduler, err := NewAvailabilityScheduler(availabilityTimezoneDefault, availabilityHourDefault)
	if err != nil {
		panic(err)
	}
	return scheduler
}

// Location 返回结算时区
func (s *AvailabilityScheduler) Location() *time.Location {
	return s.loc
}

// AvailableAt 付款日 ≤15 号的下月 5 号可提现，否则下月 20 号
func (s *AvailabilityScheduler) AvailableAt(paidAt time.Time) time.Time {
	local := paidAt.In(s.loc)
	day := availabilityLateDay
	if local.Day() <= availabilityEarlyCutoffDay {
		day = availabilityEarlyDay
	}
	// time.Date 会把 13 月归一化到次年 1 月
	return time.Date(local.Year(), local.Month()+1, day, s.hour, 0, 0, 0, s.loc)
}

// MonthOf 返回时间所在的结算月份
func (s *AvailabilityScheduler) MonthOf(t time.Time) string {
	return t.In(s.loc).Format(constants.PayoutMonthLayout)
}

// MonthBounds 返回结算月份的起止时间 [start, next)
func (s *AvailabilityScheduler) MonthBounds(month string) (time.Time, time.Time, error) {
	parsed, err := time.ParseInLocation(constants.PayoutMonthLayout, strings.TrimSpace(month), s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s", ErrPayoutMonthInvalid, month)
	}
	start := time.Date(parsed.Year(), parsed.Month(), 1, 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 1, 0), nil
}
