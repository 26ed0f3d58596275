package usage

// Logical table names. They double as the table_key column of the backing store.
const (
	TableDailyAppAggregates     = "CopilotInteractionDailyAggregationByAppAndUser"
	TableDailyAgentAggregates   = "AgentInteractionDailyAggregationByUserAndAgentId"
	TableWeeklyAppAggregates    = "CopilotUsageWeeklySnapshots"
	TableMonthlyAppAggregates   = "CopilotUsageMonthlySnapshots"
	TableAllTimeAppAggregates   = "CopilotUsageAllTimeRecord"
	TableWeeklyAgentAggregates  = "AgentUsageWeeklySnapshots"
	TableMonthlyAgentAggregates = "AgentUsageMonthlySnapshots"
	TableAllTimeAgentAggregates = "AgentUsageAllTimeRecord"
	TableWeeklyAgentByUser      = "AgentUsageByUserWeeklySnapshots"
	TableMonthlyAgentByUser     = "AgentUsageByUserMonthlySnapshots"
	TableAllTimeAgentByUser     = "AgentUsageByUserAllTimeRecord"
	TableInactivityLedger       = "UsersLastUsageTracker"
	TableReportRefresh          = "ReportRefreshRecord"
	TableWebhookState           = "WebhookFunctionState"
	TableUnhandledAppHosts      = "UnhandledAppHosts"
	TableInteractionDetails     = "CopilotInteractionDetails"
	TableWebhookTriggerEvents   = "WebhookTriggerEvents"
	TableStagedSnapshots        = "StagedUsageSnapshots"
	TableKeyRotationProgress    = "KeyRotationProgress"
)

// AppAggregateTable returns the per-user app aggregate table for tf.
func AppAggregateTable(tf Timeframe) string {
	switch tf {
	case TimeframeWeekly:
		return TableWeeklyAppAggregates
	case TimeframeMonthly:
		return TableMonthlyAppAggregates
	case TimeframeAllTime:
		return TableAllTimeAppAggregates
	default:
		return TableDailyAppAggregates
	}
}

// AgentByUserTable returns the per-user agent aggregate table for tf.
func AgentByUserTable(tf Timeframe) string {
	switch tf {
	case TimeframeWeekly:
		return TableWeeklyAgentByUser
	case TimeframeMonthly:
		return TableMonthlyAgentByUser
	case TimeframeAllTime:
		return TableAllTimeAgentByUser
	default:
		return TableDailyAgentAggregates
	}
}

// AgentTotalsTable returns the per-agent (all users) aggregate table for tf.
func AgentTotalsTable(tf Timeframe) string {
	switch tf {
	case TimeframeWeekly:
		return TableWeeklyAgentAggregates
	case TimeframeMonthly:
		return TableMonthlyAgentAggregates
	default:
		return TableAllTimeAgentAggregates
	}
}
