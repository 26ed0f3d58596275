package adoption

import (
	"context"
	"time"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// StateRepo holds the small control rows: refresh windows and the ingestion pause flag.
type StateRepo interface {
	UpdateReportRefreshDate(ctx context.Context, tf types.Timeframe, reportDate, startDate string) error
	GetReportRefresh(ctx context.Context, tf types.Timeframe) (*types.RefreshRecord, bool, error)
	// IsPaused treats a missing flag row as not paused.
	IsPaused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
	// RotationTarget is empty when no rotation is waiting for confirmation.
	RotationTarget(ctx context.Context) (string, error)
	SetRotationTarget(ctx context.Context, fingerprint string) error
}

type stateRepo struct {
	store kvstore.Store
	log   *logger.Logger
}

func NewStateRepo(store kvstore.Store, baseLog *logger.Logger) StateRepo {
	return &stateRepo{store: store, log: baseLog.With("repo", "StateRepo")}
}

func (r *stateRepo) UpdateReportRefreshDate(ctx context.Context, tf types.Timeframe, reportDate, startDate string) error {
	e := kvstore.NewEntity(types.ReportRefreshPartition, string(tf))
	e.Set(types.PropReportRefreshDate, reportDate)
	e.Set(types.PropStartDate, startDate)
	return r.store.Upsert(ctx, types.TableReportRefresh, e, kvstore.Merge)
}

func (r *stateRepo) GetReportRefresh(ctx context.Context, tf types.Timeframe) (*types.RefreshRecord, bool, error) {
	e, ok, err := r.store.GetIfExists(ctx, types.TableReportRefresh, types.ReportRefreshPartition, string(tf))
	if err != nil || !ok {
		return nil, false, err
	}
	return &types.RefreshRecord{
		Timeframe:         tf,
		ReportRefreshDate: e.String(types.PropReportRefreshDate),
		StartDate:         e.String(types.PropStartDate),
	}, true, nil
}

func (r *stateRepo) IsPaused(ctx context.Context) (bool, error) {
	e, ok, err := r.store.GetIfExists(ctx, types.TableWebhookState, types.WebhookStatePartition, types.WebhookPauseRow)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return e.Bool(types.PropIsPaused), nil
}

func (r *stateRepo) SetPaused(ctx context.Context, paused bool) error {
	e := kvstore.NewEntity(types.WebhookStatePartition, types.WebhookPauseRow)
	e.Set(types.PropIsPaused, paused)
	e.Set("ChangedAt", time.Now().UTC().Format(time.RFC3339))
	if err := r.store.Upsert(ctx, types.TableWebhookState, e, kvstore.Merge); err != nil {
		return err
	}
	r.log.Info("Ingestion pause flag changed", "paused", paused)
	return nil
}

func (r *stateRepo) RotationTarget(ctx context.Context) (string, error) {
	e, ok, err := r.store.GetIfExists(ctx, types.TableWebhookState, types.WebhookStatePartition, types.RotationTargetRow)
	if err != nil || !ok {
		return "", err
	}
	return e.String(types.PropKeyFingerprint), nil
}

func (r *stateRepo) SetRotationTarget(ctx context.Context, fingerprint string) error {
	e := kvstore.NewEntity(types.WebhookStatePartition, types.RotationTargetRow)
	e.Set(types.PropKeyFingerprint, fingerprint)
	e.Set("ChangedAt", time.Now().UTC().Format(time.RFC3339))
	return r.store.Upsert(ctx, types.TableWebhookState, e, kvstore.Replace)
}
