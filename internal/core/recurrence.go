// This file implements the strategy pattern for advancing a recurrence cursor.
// Each interval (daily, weekly, monthly, yearly) has its own advancer.

package core

import "time"

// Advancer computes the occurrence that follows base for one interval.
// anchorDay is the preferred day of month; advancers that step by whole
// days ignore it.
type Advancer interface {
	Next(base Date, anchorDay int) Date
}

// DailyAdvancer steps one calendar day.
type DailyAdvancer struct{}

func (DailyAdvancer) Next(base Date, _ int) Date {
	return base.AddDays(1)
}

// WeeklyAdvancer steps seven calendar days.
type WeeklyAdvancer struct{}

func (WeeklyAdvancer) Next(base Date, _ int) Date {
	return base.AddDays(7)
}

// MonthlyAdvancer moves to the next month, clamping the anchor day to the
// last day of that month (Jan 31 -> Feb 29 in 2024).
type MonthlyAdvancer struct{}

func (MonthlyAdvancer) Next(base Date, anchorDay int) Date {
	year, month := base.Year(), base.Month()+1
	if month > 12 {
		year, month = year+1, 1
	}
	return NewDate(year, month, clampDay(year, month, anchorDay))
}

// YearlyAdvancer moves to the same month next year; Feb 29 becomes Feb 28
// on non-leap years.
type YearlyAdvancer struct{}

func (YearlyAdvancer) Next(base Date, anchorDay int) Date {
	year, month := base.Year()+1, base.Month()
	return NewDate(year, month, clampDay(year, month, anchorDay))
}

// advancers maps recurring intervals to their strategies.
var advancers = map[RecurrenceInterval]Advancer{
	IntervalDaily:   DailyAdvancer{},
	IntervalWeekly:  WeeklyAdvancer{},
	IntervalMonthly: MonthlyAdvancer{},
	IntervalYearly:  YearlyAdvancer{},
}

// NextOccurrence returns the occurrence after base for interval. It returns
// false for IntervalNone and unknown intervals; that is not an error.
func NextOccurrence(base Date, interval RecurrenceInterval) (Date, bool) {
	return NextOccurrenceAnchored(base, interval, base.Day())
}

// NextOccurrenceAnchored is NextOccurrence with an explicit preferred day of
// month. A series started on the 31st passes 31 so that a short month does
// not pull every later occurrence back (Feb 29 -> Mar 31, not Mar 29).
func NextOccurrenceAnchored(base Date, interval RecurrenceInterval, anchorDay int) (Date, bool) {
	adv, ok := advancers[interval]
	if !ok {
		return Date{}, false
	}
	if anchorDay < 1 {
		anchorDay = base.Day()
	}
	return adv.Next(base, anchorDay), true
}

// SeriesAnchorDay returns the day of month a series advances on from cursor.
// The cursor's own day wins unless the cursor sits on a month end it was
// clamped to, in which case the larger seriesDay is restored.
func SeriesAnchorDay(cursor Date, seriesDay int) int {
	day := cursor.Day()
	if day == DaysIn(cursor.Year(), cursor.Month()) && seriesDay > day {
		return seriesDay
	}
	return day
}

// DaysIn returns the number of days in the given month.
func DaysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func clampDay(year, month, day int) int {
	if last := DaysIn(year, month); day > last {
		return last
	}
	return day
}
