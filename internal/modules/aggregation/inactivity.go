package aggregation

import (
	"context"

	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
)

// inactivityRecord returns the ledger entry for snap, or false when the user
// is recent enough not to need one.
func inactivityRecord(encUPN string, snap types.UsageSnapshot, thresholdDays int) (types.InactivityRecord, bool, error) {
	if snap.LastActivityDate == snap.ReportRefreshDate {
		return types.InactivityRecord{}, false, nil
	}
	report, err := types.ParseDate(snap.ReportRefreshDate)
	if err != nil {
		return types.InactivityRecord{}, false, err
	}
	lastDate := snap.LastActivityDate
	if lastDate == "" {
		lastDate = types.EpochDate
	}
	last, err := types.ParseDate(lastDate)
	if err != nil {
		return types.InactivityRecord{}, false, err
	}
	if !last.AddDate(0, 0, thresholdDays).Before(report) {
		return types.InactivityRecord{}, false, nil
	}
	return types.InactivityRecord{
		EncryptedUPN:          encUPN,
		LastActivityDate:      lastDate,
		ReportRefreshDate:     snap.ReportRefreshDate,
		DaysSinceLastActivity: report.Sub(last).Hours() / 24,
	}, true, nil
}

func (e *Engine) recordInactivity(ctx context.Context, encUPN string, snap types.UsageSnapshot) error {
	rec, ok, err := inactivityRecord(encUPN, snap, e.deps.ReminderDays)
	if err != nil || !ok {
		return err
	}
	return e.deps.Inactivity.Record(ctx, rec)
}
