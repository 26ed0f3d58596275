package adoption

import (
	"context"
	"time"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// RotationProgressRepo records which units (a table, or a table-day) a
// rotation run has finished, so the run can be resumed.
type RotationProgressRepo interface {
	IsDone(ctx context.Context, runID, unit string) (bool, error)
	MarkDone(ctx context.Context, runID, unit string, processed, errs, skipped int) error
}

type rotationProgressRepo struct {
	store kvstore.Store
	log   *logger.Logger
}

func NewRotationProgressRepo(store kvstore.Store, baseLog *logger.Logger) RotationProgressRepo {
	return &rotationProgressRepo{store: store, log: baseLog.With("repo", "RotationProgressRepo")}
}

func (r *rotationProgressRepo) IsDone(ctx context.Context, runID, unit string) (bool, error) {
	if runID == "" {
		return false, nil
	}
	_, ok, err := r.store.GetIfExists(ctx, types.TableKeyRotationProgress, runID, unit)
	return ok, err
}

func (r *rotationProgressRepo) MarkDone(ctx context.Context, runID, unit string, processed, errs, skipped int) error {
	if runID == "" {
		return nil
	}
	e := kvstore.NewEntity(runID, unit)
	e.Set("Processed", processed)
	e.Set("Errors", errs)
	e.Set("Skipped", skipped)
	e.Set("CompletedAt", time.Now().UTC().Format(time.RFC3339))
	return r.store.Upsert(ctx, types.TableKeyRotationProgress, e, kvstore.Replace)
}
