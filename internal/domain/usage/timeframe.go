package usage

import (
	"fmt"
	"strings"
)

type Timeframe string

const (
	TimeframeDaily   Timeframe = "daily"
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeMonthly Timeframe = "monthly"
	TimeframeAllTime Timeframe = "alltime"
)

// RollupTimeframes are the windows a daily snapshot is folded into.
var RollupTimeframes = []Timeframe{TimeframeAllTime, TimeframeMonthly, TimeframeWeekly}

func ParseTimeframe(s string) (Timeframe, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return TimeframeDaily, nil
	case "weekly":
		return TimeframeWeekly, nil
	case "monthly":
		return TimeframeMonthly, nil
	case "alltime", "all-time", "all_time":
		return TimeframeAllTime, nil
	default:
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
}
