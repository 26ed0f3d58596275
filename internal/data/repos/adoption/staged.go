package adoption

import (
	"context"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// SnapshotRepo stages report rows for queued per-user aggregation. The plaintext
// principal name is never stored; the encrypted form is part of the key.
type SnapshotRepo interface {
	Stage(ctx context.Context, encUPN string, snap types.UsageSnapshot) error
	Get(ctx context.Context, reportDate, encUPN string) (*types.UsageSnapshot, bool, error)
}

type snapshotRepo struct {
	store kvstore.Store
	log   *logger.Logger
}

func NewSnapshotRepo(store kvstore.Store, baseLog *logger.Logger) SnapshotRepo {
	return &snapshotRepo{store: store, log: baseLog.With("repo", "SnapshotRepo")}
}

// The row key is fixed so that every staged user gets its own partition, in
// the same "{date}-{encUPN}" shape as the daily side tables.
const stagedRow = "snapshot"

func (r *snapshotRepo) Stage(ctx context.Context, encUPN string, snap types.UsageSnapshot) error {
	e := kvstore.NewEntity(types.DailyPartition(snap.ReportRefreshDate, encUPN), stagedRow)
	for name, v := range snapshotFields(&snap) {
		e.Set(name, *v)
	}
	return r.store.Upsert(ctx, types.TableStagedSnapshots, e, kvstore.Replace)
}

func (r *snapshotRepo) Get(ctx context.Context, reportDate, encUPN string) (*types.UsageSnapshot, bool, error) {
	e, ok, err := r.store.GetIfExists(ctx, types.TableStagedSnapshots, types.DailyPartition(reportDate, encUPN), stagedRow)
	if err != nil || !ok {
		return nil, false, err
	}
	var snap types.UsageSnapshot
	for name, v := range snapshotFields(&snap) {
		*v = e.String(name)
	}
	if snap.ReportRefreshDate == "" {
		snap.ReportRefreshDate = reportDate
	}
	return &snap, true, nil
}

func snapshotFields(s *types.UsageSnapshot) map[string]*string {
	return map[string]*string{
		"ReportRefreshDate":                     &s.ReportRefreshDate,
		"LastActivityDate":                      &s.LastActivityDate,
		"CopilotChatLastActivityDate":           &s.CopilotChatLastActivityDate,
		"MicrosoftTeamsCopilotLastActivityDate": &s.MicrosoftTeamsCopilotLastActivityDate,
		"WordCopilotLastActivityDate":           &s.WordCopilotLastActivityDate,
		"ExcelCopilotLastActivityDate":          &s.ExcelCopilotLastActivityDate,
		"PowerPointCopilotLastActivityDate":     &s.PowerPointCopilotLastActivityDate,
		"OutlookCopilotLastActivityDate":        &s.OutlookCopilotLastActivityDate,
		"OneNoteCopilotLastActivityDate":        &s.OneNoteCopilotLastActivityDate,
		"LoopCopilotLastActivityDate":           &s.LoopCopilotLastActivityDate,
	}
}
