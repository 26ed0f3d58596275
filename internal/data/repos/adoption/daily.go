package adoption

import (
	"context"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// DailyRepo owns the per-user-day side tables filled at ingestion time.
type DailyRepo interface {
	AppCounts(ctx context.Context, date, encUPN string) (map[types.AppType]int, error)
	AgentCounts(ctx context.Context, date, encUPN string) ([]types.DailyCount, error)
	IncrementApp(ctx context.Context, date, encUPN string, app types.AppType, delta int) error
	IncrementAgent(ctx context.Context, date, encUPN, agentID, agentName string, delta int) error
	// AgentDay pages through every user's agent rows for date.
	AgentDay(ctx context.Context, date string, pageSize int) *kvstore.Pager
	// AppDay pages through every user's app rows for date.
	AppDay(ctx context.Context, date string, pageSize int) *kvstore.Pager
}

type dailyRepo struct {
	store kvstore.Store
	log   *logger.Logger
}

func NewDailyRepo(store kvstore.Store, baseLog *logger.Logger) DailyRepo {
	return &dailyRepo{store: store, log: baseLog.With("repo", "DailyRepo")}
}

func (r *dailyRepo) AppCounts(ctx context.Context, date, encUPN string) (map[types.AppType]int, error) {
	rows, err := kvstore.Collect(ctx, r.store.Query(ctx, types.TableDailyAppAggregates,
		kvstore.Filter{PartitionEq: types.DailyPartition(date, encUPN)}, 100))
	if err != nil {
		return nil, err
	}
	out := make(map[types.AppType]int, len(rows))
	for _, e := range rows {
		app, ok := types.ParseAppType(e.RowKey)
		if !ok {
			r.log.Warn("Unknown app row in daily table", "row", e.RowKey)
			continue
		}
		out[app] += e.Int(types.PropTotalInteractionCount)
	}
	return out, nil
}

func (r *dailyRepo) AgentCounts(ctx context.Context, date, encUPN string) ([]types.DailyCount, error) {
	rows, err := kvstore.Collect(ctx, r.store.Query(ctx, types.TableDailyAgentAggregates,
		kvstore.Filter{PartitionEq: types.DailyPartition(date, encUPN)}, 100))
	if err != nil {
		return nil, err
	}
	out := make([]types.DailyCount, 0, len(rows))
	for _, e := range rows {
		out = append(out, types.DailyCount{
			Key:              e.RowKey,
			InteractionCount: e.Int(types.PropTotalInteractionCount),
			Name:             e.String(types.PropAgentName),
		})
	}
	return out, nil
}

func (r *dailyRepo) IncrementApp(ctx context.Context, date, encUPN string, app types.AppType, delta int) error {
	_, err := kvstore.Mutate(ctx, r.store, types.TableDailyAppAggregates, types.DailyPartition(date, encUPN), app.String(),
		func(e *kvstore.Entity, _ bool) (bool, error) {
			e.Set(types.PropTotalInteractionCount, e.Int(types.PropTotalInteractionCount)+delta)
			return true, nil
		})
	return err
}

func (r *dailyRepo) IncrementAgent(ctx context.Context, date, encUPN, agentID, agentName string, delta int) error {
	_, err := kvstore.Mutate(ctx, r.store, types.TableDailyAgentAggregates, types.DailyPartition(date, encUPN), agentID,
		func(e *kvstore.Entity, _ bool) (bool, error) {
			e.Set(types.PropTotalInteractionCount, e.Int(types.PropTotalInteractionCount)+delta)
			if e.String(types.PropAgentName) == "" && agentName != "" {
				e.Set(types.PropAgentName, agentName)
			}
			return true, nil
		})
	return err
}

func (r *dailyRepo) AgentDay(ctx context.Context, date string, pageSize int) *kvstore.Pager {
	return r.store.Query(ctx, types.TableDailyAgentAggregates, dayFilter(date), pageSize)
}

func (r *dailyRepo) AppDay(ctx context.Context, date string, pageSize int) *kvstore.Pager {
	return r.store.Query(ctx, types.TableDailyAppAggregates, dayFilter(date), pageSize)
}

// dayFilter matches every "{date}-..." partition.
func dayFilter(date string) kvstore.Filter {
	return kvstore.Filter{PartitionGE: date + "-", PartitionLT: date + "-\uffff"}
}
