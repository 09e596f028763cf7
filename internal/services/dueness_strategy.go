// Package services holds the orchestration layer: the transaction lifecycle
// manager, subscription billing, and reporting.
//
// Dueness checking uses one strategy per billing frequency so the billing
// loop stays free of calendar arithmetic.
package services

import (
	"fmt"
	"time"

	"bilancio/internal/core"
)

// DuenessChecker decides whether a subscription should be billed now given
// its last billing time and its start date.
type DuenessChecker interface {
	IsDue(lastBilled, now time.Time, startDate time.Time) bool
}

// DailyChecker bills once per calendar day.
type DailyChecker struct{}

func (DailyChecker) IsDue(lastBilled, now time.Time, _ time.Time) bool {
	if lastBilled.IsZero() {
		return true
	}
	return lastBilled.Format("2006-01-02") != now.Format("2006-01-02")
}

// WeeklyChecker bills when 7 or more days have passed.
type WeeklyChecker struct{}

func (WeeklyChecker) IsDue(lastBilled, now time.Time, _ time.Time) bool {
	if lastBilled.IsZero() {
		return true
	}
	daysSince := now.Sub(lastBilled).Hours() / 24
	return daysSince >= 7
}

// MonthlyChecker bills once per month on the start date's day, clamped to the
// last day of shorter months.
type MonthlyChecker struct{}

func (MonthlyChecker) IsDue(lastBilled, now time.Time, startDate time.Time) bool {
	if lastBilled.IsZero() {
		return true
	}
	if lastBilled.Year() == now.Year() && lastBilled.Month() == now.Month() {
		return false
	}

	targetDay := startDate.Day()
	lastDayOfMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if targetDay > lastDayOfMonth {
		targetDay = lastDayOfMonth
	}
	return now.Day() >= targetDay
}

// YearlyChecker bills once per year on the start date's month and day.
type YearlyChecker struct{}

func (YearlyChecker) IsDue(lastBilled, now time.Time, startDate time.Time) bool {
	if lastBilled.IsZero() {
		return true
	}
	if lastBilled.Year() == now.Year() {
		return false
	}

	targetMonth := int(startDate.Month())
	targetDay := startDate.Day()

	if int(now.Month()) < targetMonth {
		return false
	}
	if int(now.Month()) == targetMonth {
		lastDayOfMonth := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
		if targetDay > lastDayOfMonth {
			targetDay = lastDayOfMonth
		}
		return now.Day() >= targetDay
	}
	return true
}

var duenessStrategies = map[core.RepetitionType]DuenessChecker{
	core.Daily:   DailyChecker{},
	core.Weekly:  WeeklyChecker{},
	core.Monthly: MonthlyChecker{},
	core.Yearly:  YearlyChecker{},
}

// GetDuenessChecker returns the checker for a billing frequency.
func GetDuenessChecker(frequency core.RepetitionType) (DuenessChecker, error) {
	checker, ok := duenessStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown repetition type: %s", frequency)
	}
	return checker, nil
}
