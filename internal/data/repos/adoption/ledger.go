package adoption

import (
	"context"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

type InactivityRepo interface {
	Record(ctx context.Context, rec types.InactivityRecord) error
	// All pages through the whole ledger.
	All(ctx context.Context, pageSize int) *kvstore.Pager
	ForUser(ctx context.Context, encUPN string) ([]types.InactivityRecord, error)
}

type inactivityRepo struct {
	store kvstore.Store
	log   *logger.Logger
}

func NewInactivityRepo(store kvstore.Store, baseLog *logger.Logger) InactivityRepo {
	return &inactivityRepo{store: store, log: baseLog.With("repo", "InactivityRepo")}
}

func (r *inactivityRepo) Record(ctx context.Context, rec types.InactivityRecord) error {
	return r.store.Upsert(ctx, types.TableInactivityLedger, rec.Entity(), kvstore.Merge)
}

func (r *inactivityRepo) All(ctx context.Context, pageSize int) *kvstore.Pager {
	return r.store.Query(ctx, types.TableInactivityLedger, kvstore.Filter{}, pageSize)
}

func (r *inactivityRepo) ForUser(ctx context.Context, encUPN string) ([]types.InactivityRecord, error) {
	rows, err := kvstore.Collect(ctx, r.store.Query(ctx, types.TableInactivityLedger, kvstore.Filter{PartitionEq: encUPN}, 100))
	if err != nil {
		return nil, err
	}
	out := make([]types.InactivityRecord, 0, len(rows))
	for _, e := range rows {
		out = append(out, types.InactivityRecordFromEntity(e))
	}
	return out, nil
}
