package adoption

import (
	"context"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// AppAggregateFunc edits agg in place; exists is false for a row that has never
// been written. Returning false leaves the store untouched.
type AppAggregateFunc func(agg *types.TimeframeAggregate, exists bool) bool

type AgentAggregateFunc func(agg *types.AgentAggregate, exists bool) bool

type AggregateRepo interface {
	GetApp(ctx context.Context, tf types.Timeframe, pk, encUPN string) (*types.TimeframeAggregate, bool, error)
	ApplyApp(ctx context.Context, tf types.Timeframe, pk, encUPN string, fn AppAggregateFunc) (bool, error)
	ListApp(ctx context.Context, tf types.Timeframe, pk string) ([]types.TimeframeAggregate, error)

	GetAgent(ctx context.Context, tf types.Timeframe, pk, encUPN string) (*types.AgentAggregate, bool, error)
	ApplyAgent(ctx context.Context, tf types.Timeframe, pk, encUPN string, fn AgentAggregateFunc) (bool, error)

	// AddAgentTotal folds one day of usage into the all-users row of agentID.
	// A date at or before the row's last applied date is ignored.
	AddAgentTotal(ctx context.Context, tf types.Timeframe, pk, agentID, name, date string, activeUsers, count int) (bool, error)
	GetAgentTotal(ctx context.Context, tf types.Timeframe, pk, agentID string) (*types.AgentAggregate, bool, error)
}

type aggregateRepo struct {
	store kvstore.Store
	log   *logger.Logger
}

func NewAggregateRepo(store kvstore.Store, baseLog *logger.Logger) AggregateRepo {
	return &aggregateRepo{store: store, log: baseLog.With("repo", "AggregateRepo")}
}

func (r *aggregateRepo) GetApp(ctx context.Context, tf types.Timeframe, pk, encUPN string) (*types.TimeframeAggregate, bool, error) {
	e, ok, err := r.store.GetIfExists(ctx, types.AppAggregateTable(tf), pk, encUPN)
	if err != nil || !ok {
		return nil, false, err
	}
	agg := types.TimeframeAggregateFromEntity(*e)
	return &agg, true, nil
}

func (r *aggregateRepo) ApplyApp(ctx context.Context, tf types.Timeframe, pk, encUPN string, fn AppAggregateFunc) (bool, error) {
	return kvstore.Mutate(ctx, r.store, types.AppAggregateTable(tf), pk, encUPN, func(e *kvstore.Entity, exists bool) (bool, error) {
		agg := types.TimeframeAggregateFromEntity(*e)
		if !fn(&agg, exists) {
			return false, nil
		}
		next := agg.Entity()
		// Keep attributes this type does not model, e.g. the key fingerprint.
		for k, v := range next.Props {
			e.Set(k, v)
		}
		return true, nil
	})
}

func (r *aggregateRepo) ListApp(ctx context.Context, tf types.Timeframe, pk string) ([]types.TimeframeAggregate, error) {
	rows, err := kvstore.Collect(ctx, r.store.Query(ctx, types.AppAggregateTable(tf), kvstore.Filter{PartitionEq: pk}, 1000))
	if err != nil {
		return nil, err
	}
	out := make([]types.TimeframeAggregate, 0, len(rows))
	for _, e := range rows {
		out = append(out, types.TimeframeAggregateFromEntity(e))
	}
	return out, nil
}

func (r *aggregateRepo) GetAgent(ctx context.Context, tf types.Timeframe, pk, encUPN string) (*types.AgentAggregate, bool, error) {
	e, ok, err := r.store.GetIfExists(ctx, types.AgentByUserTable(tf), pk, encUPN)
	if err != nil || !ok {
		return nil, false, err
	}
	agg := types.AgentAggregateFromEntity(*e)
	return &agg, true, nil
}

func (r *aggregateRepo) ApplyAgent(ctx context.Context, tf types.Timeframe, pk, encUPN string, fn AgentAggregateFunc) (bool, error) {
	return kvstore.Mutate(ctx, r.store, types.AgentByUserTable(tf), pk, encUPN, func(e *kvstore.Entity, exists bool) (bool, error) {
		agg := types.AgentAggregateFromEntity(*e)
		if !fn(&agg, exists) {
			return false, nil
		}
		for k, v := range agg.Entity().Props {
			e.Set(k, v)
		}
		return true, nil
	})
}

func (r *aggregateRepo) AddAgentTotal(ctx context.Context, tf types.Timeframe, pk, agentID, name, date string, activeUsers, count int) (bool, error) {
	return kvstore.Mutate(ctx, r.store, types.AgentTotalsTable(tf), pk, agentID, func(e *kvstore.Entity, _ bool) (bool, error) {
		if last := e.String(types.PropLastAppliedDate); last != "" && date <= last {
			return false, nil
		}
		e.Set(types.PropLastAppliedDate, date)
		e.Set(types.PropTotalDailyActivityCount, e.Int(types.PropTotalDailyActivityCount)+activeUsers)
		e.Set(types.PropTotalInteractionCount, e.Int(types.PropTotalInteractionCount)+count)
		if name != "" {
			e.Set(types.PropAgentName, name)
		}
		return true, nil
	})
}

func (r *aggregateRepo) GetAgentTotal(ctx context.Context, tf types.Timeframe, pk, agentID string) (*types.AgentAggregate, bool, error) {
	e, ok, err := r.store.GetIfExists(ctx, types.AgentTotalsTable(tf), pk, agentID)
	if err != nil || !ok {
		return nil, false, err
	}
	agg := types.AgentAggregateFromEntity(*e)
	return &agg, true, nil
}
