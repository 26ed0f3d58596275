package usage

// AllTimePrefix starts every all-time partition key.
const AllTimePrefix = "allTime"

// DatePrefixLen is len("yyyy-MM-dd-").
const DatePrefixLen = len(DateLayout) + 1

// Daily rows: partition "{date}-{encUPN}", row = app tag or agent id.
func DailyPartition(date, encUPN string) string { return date + "-" + encUPN }

// AppWindowPartition is "{windowStart}-{app}" for weekly/monthly app aggregates.
func AppWindowPartition(windowStart string, app AppType) string {
	return windowStart + "-" + app.String()
}

// AppAllTimePartition is "allTime{app}".
func AppAllTimePartition(app AppType) string { return AllTimePrefix + app.String() }

// AppPartition picks the app aggregate partition key for tf.
func AppPartition(tf Timeframe, windowStart string, app AppType) string {
	if tf == TimeframeAllTime {
		return AppAllTimePartition(app)
	}
	return AppWindowPartition(windowStart, app)
}

// AgentUserPartition is "{windowStart}-{agentId}", or "allTime-{agentId}" for all-time.
func AgentUserPartition(tf Timeframe, windowStart, agentID string) string {
	if tf == TimeframeAllTime {
		return AllTimePrefix + "-" + agentID
	}
	return windowStart + "-" + agentID
}

// AgentTotalsPartition is the window start, or "allTime".
func AgentTotalsPartition(tf Timeframe, windowStart string) string {
	if tf == TimeframeAllTime {
		return AllTimePrefix
	}
	return windowStart
}

// SplitDatedPartition splits "{yyyy-MM-dd}-{rest}".
func SplitDatedPartition(pk string) (date, rest string, ok bool) {
	if len(pk) <= DatePrefixLen || pk[DatePrefixLen-1] != '-' {
		return "", "", false
	}
	date = pk[:DatePrefixLen-1]
	if _, err := ParseDate(date); err != nil {
		return "", "", false
	}
	return date, pk[DatePrefixLen:], true
}

// Report refresh tracking rows.
const (
	ReportRefreshPartition = "ReportRefreshDate"
	WebhookStatePartition  = "Webhook"
	WebhookPauseRow        = "Pause"
	// RotationTargetRow holds the fingerprint of the key a prepared rotation
	// moved the data to.
	RotationTargetRow = "RotationTarget"
)
