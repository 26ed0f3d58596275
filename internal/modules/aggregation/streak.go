package aggregation

import types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"

// dayResult says what happened to one aggregate row for one day.
type dayResult int

const (
	dayNoRow dayResult = iota
	dayApplied
	dayDuplicate
)

// applyDay folds one day into agg. A row is only created on a day with usage.
// A date at or before LastAppliedDate was already folded in and is ignored.
func applyDay(agg *types.TimeframeAggregate, exists, used bool, interactions int, date string) dayResult {
	if !exists {
		if !used {
			return dayNoRow
		}
		agg.TotalDailyActivityCount = 1
		agg.TotalInteractionCount = interactions
		agg.CurrentDailyStreak = 1
		agg.BestDailyStreak = 1
		agg.LastAppliedDate = date
		return dayApplied
	}
	if agg.LastAppliedDate != "" && date <= agg.LastAppliedDate {
		return dayDuplicate
	}
	if used {
		agg.TotalDailyActivityCount++
		agg.TotalInteractionCount += interactions
		agg.CurrentDailyStreak++
		if agg.CurrentDailyStreak > agg.BestDailyStreak {
			agg.BestDailyStreak = agg.CurrentDailyStreak
		}
	} else {
		agg.CurrentDailyStreak = 0
	}
	agg.LastAppliedDate = date
	return dayApplied
}

func applyAgentDay(agg *types.AgentAggregate, exists bool, name string, interactions int, date string) dayResult {
	if exists && agg.LastAppliedDate != "" && date <= agg.LastAppliedDate {
		return dayDuplicate
	}
	agg.TotalDailyActivityCount++
	agg.TotalInteractionCount += interactions
	if name != "" {
		agg.AgentName = name
	}
	agg.LastAppliedDate = date
	return dayApplied
}

// dailyUsage decides per app whether the user was active on the report day.
// Apps with a dedicated report column use it; the rest rely on interaction
// counts collected from the audit feed. All is the union of the others.
func dailyUsage(snap types.UsageSnapshot, counts map[types.AppType]int) map[types.AppType]bool {
	out := make(map[types.AppType]bool, len(types.AllApps()))
	anyUsed := false
	for _, app := range types.AllApps() {
		if app == types.AppAll {
			continue
		}
		var used bool
		if last, ok := snap.LastActivityFor(app); ok {
			used = last != "" && last == snap.ReportRefreshDate
		} else {
			used = counts[app] > 0
		}
		out[app] = used
		anyUsed = anyUsed || used
	}
	out[types.AppAll] = anyUsed
	return out
}
