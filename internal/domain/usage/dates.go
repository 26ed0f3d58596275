package usage

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the yyyy-MM-dd form used in every date-bearing key.
const DateLayout = "2006-01-02"

// EpochDate stands in for a missing last-activity date.
const EpochDate = "1970-01-01"

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

func FormatDate(t time.Time) string { return t.UTC().Format(DateLayout) }

// Calendar computes window starts. WeekStart selects the first day of a week.
type Calendar struct {
	WeekStart time.Weekday
}

func DefaultCalendar() Calendar { return Calendar{WeekStart: time.Monday} }

func ParseWeekStart(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "monday", "mon", "iso":
		return time.Monday, nil
	case "sunday", "sun":
		return time.Sunday, nil
	default:
		return time.Monday, fmt.Errorf("unsupported week start %q", s)
	}
}

func (c Calendar) WeekStartOf(t time.Time) time.Time {
	t = truncateDay(t)
	diff := (int(t.Weekday()) - int(c.WeekStart) + 7) % 7
	return t.AddDate(0, 0, -diff)
}

func (c Calendar) MonthStartOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// WindowStart returns the key date for timeframe tf containing t. All-time has no window.
func (c Calendar) WindowStart(tf Timeframe, t time.Time) string {
	switch tf {
	case TimeframeWeekly:
		return FormatDate(c.WeekStartOf(t))
	case TimeframeMonthly:
		return FormatDate(c.MonthStartOf(t))
	case TimeframeDaily:
		return FormatDate(truncateDay(t))
	default:
		return ""
	}
}

// WindowEnd returns the exclusive end of the window starting at start.
func WindowEnd(tf Timeframe, start time.Time) time.Time {
	switch tf {
	case TimeframeWeekly:
		return start.AddDate(0, 0, 7)
	case TimeframeMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
