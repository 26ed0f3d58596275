package usage

import "github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"

// Property names shared with any external reader of the tables.
const (
	PropTotalDailyActivityCount = "TotalDailyActivityCount"
	PropTotalInteractionCount   = "TotalInteractionCount"
	PropCurrentDailyStreak      = "CurrentDailyStreak"
	PropBestDailyStreak         = "BestDailyStreak"
	PropLastAppliedDate         = "LastAppliedDate"
	PropAgentName               = "AgentName"
	PropKeyFingerprint          = "KeyFingerprint"
	PropLastActivityDate        = "LastActivityDate"
	PropReportRefreshDate       = "ReportRefreshDate"
	PropDaysSinceLastActivity   = "DaysSinceLastActivity"
	PropStartDate               = "StartDate"
	PropIsPaused                = "IsPaused"
	PropCount                   = "Count"
	PropEncryptedUPN            = "EncryptedUPN"
)

// TimeframeAggregate is one (timeframe, window, app, user) rollup.
type TimeframeAggregate struct {
	PartitionKey            string
	EncryptedUPN            string
	Version                 string
	TotalDailyActivityCount int
	TotalInteractionCount   int
	CurrentDailyStreak      int
	BestDailyStreak         int
	LastAppliedDate         string
}

func TimeframeAggregateFromEntity(e kvstore.Entity) TimeframeAggregate {
	return TimeframeAggregate{
		PartitionKey:            e.PartitionKey,
		EncryptedUPN:            e.RowKey,
		Version:                 e.Version,
		TotalDailyActivityCount: e.Int(PropTotalDailyActivityCount),
		TotalInteractionCount:   e.Int(PropTotalInteractionCount),
		CurrentDailyStreak:      e.Int(PropCurrentDailyStreak),
		BestDailyStreak:         e.Int(PropBestDailyStreak),
		LastAppliedDate:         e.String(PropLastAppliedDate),
	}
}

func (a TimeframeAggregate) Entity() kvstore.Entity {
	e := kvstore.NewEntity(a.PartitionKey, a.EncryptedUPN)
	e.Version = a.Version
	e.Set(PropTotalDailyActivityCount, a.TotalDailyActivityCount)
	e.Set(PropTotalInteractionCount, a.TotalInteractionCount)
	e.Set(PropCurrentDailyStreak, a.CurrentDailyStreak)
	e.Set(PropBestDailyStreak, a.BestDailyStreak)
	if a.LastAppliedDate != "" {
		e.Set(PropLastAppliedDate, a.LastAppliedDate)
	}
	return e
}

// AgentAggregate is one (timeframe, window, agent, user) rollup. No streaks.
type AgentAggregate struct {
	PartitionKey            string
	EncryptedUPN            string
	Version                 string
	AgentName               string
	TotalDailyActivityCount int
	TotalInteractionCount   int
	LastAppliedDate         string
}

func AgentAggregateFromEntity(e kvstore.Entity) AgentAggregate {
	return AgentAggregate{
		PartitionKey:            e.PartitionKey,
		EncryptedUPN:            e.RowKey,
		Version:                 e.Version,
		AgentName:               e.String(PropAgentName),
		TotalDailyActivityCount: e.Int(PropTotalDailyActivityCount),
		TotalInteractionCount:   e.Int(PropTotalInteractionCount),
		LastAppliedDate:         e.String(PropLastAppliedDate),
	}
}

func (a AgentAggregate) Entity() kvstore.Entity {
	e := kvstore.NewEntity(a.PartitionKey, a.EncryptedUPN)
	e.Version = a.Version
	e.Set(PropTotalDailyActivityCount, a.TotalDailyActivityCount)
	e.Set(PropTotalInteractionCount, a.TotalInteractionCount)
	e.Set(PropAgentName, a.AgentName)
	if a.LastAppliedDate != "" {
		e.Set(PropLastAppliedDate, a.LastAppliedDate)
	}
	return e
}

// DailyCount is one row of a daily side table: app tag or agent id for a user-day.
type DailyCount struct {
	Key              string
	InteractionCount int
	Name             string
}

// InactivityRecord is a watchlist entry for a user whose last activity lags the report.
type InactivityRecord struct {
	EncryptedUPN          string
	LastActivityDate      string
	ReportRefreshDate     string
	DaysSinceLastActivity float64
}

func (r InactivityRecord) Entity() kvstore.Entity {
	e := kvstore.NewEntity(r.EncryptedUPN, r.LastActivityDate)
	e.Set(PropLastActivityDate, r.LastActivityDate)
	e.Set(PropReportRefreshDate, r.ReportRefreshDate)
	e.Set(PropDaysSinceLastActivity, r.DaysSinceLastActivity)
	return e
}

func InactivityRecordFromEntity(e kvstore.Entity) InactivityRecord {
	return InactivityRecord{
		EncryptedUPN:          e.PartitionKey,
		LastActivityDate:      e.RowKey,
		ReportRefreshDate:     e.String(PropReportRefreshDate),
		DaysSinceLastActivity: e.Float(PropDaysSinceLastActivity),
	}
}
