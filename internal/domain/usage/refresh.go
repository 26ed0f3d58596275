package usage

// RefreshRecord marks the current window of a timeframe. StartDate is the
// window start; ReportRefreshDate is the report day that last touched it.
type RefreshRecord struct {
	Timeframe         Timeframe
	ReportRefreshDate string
	StartDate         string
}

// StartDateStatus classifies a requested window against the current one.
type StartDateStatus string

const (
	StartDateActive  StartDateStatus = "Active"
	StartDateExpired StartDateStatus = "Expired"
	StartDateFuture  StartDateStatus = "Future"
)

// CompareWindow returns the status of requested relative to current. Dates are
// yyyy-MM-dd so string order is date order.
func CompareWindow(requested, current string) StartDateStatus {
	switch {
	case requested == current:
		return StartDateActive
	case requested < current:
		return StartDateExpired
	default:
		return StartDateFuture
	}
}
