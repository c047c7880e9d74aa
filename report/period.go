package report

import (
	"fmt"
	"time"
)

// =============================================================================
// REPORT PERIODS - Date ranges for the reports screen
// =============================================================================

// Range names a report period. Weeks start on Monday.
type Range string

const (
	RangeWeek        Range = "week"
	RangeMonth       Range = "month"
	RangeThreeMonths Range = "3months"
)

// Bounds returns the [start, end] window for the range containing now.
func (r Range) Bounds(now time.Time) (time.Time, time.Time, error) {
	switch r {
	case RangeWeek:
		return startOfWeek(now), endOfWeek(now), nil
	case RangeMonth:
		return startOfMonth(now), endOfMonth(now), nil
	case RangeThreeMonths:
		return startOfMonth(now).AddDate(0, -2, 0), endOfMonth(now), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown report range %q", string(r))
	}
}

func startOfWeek(t time.Time) time.Time {
	// Monday-based week.
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, -offset)
}

func endOfWeek(t time.Time) time.Time {
	return startOfWeek(t).AddDate(0, 0, 7).Add(-time.Nanosecond)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func endOfMonth(t time.Time) time.Time {
	return startOfMonth(t).AddDate(0, 1, 0).Add(-time.Nanosecond)
}
