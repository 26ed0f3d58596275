package aggregation

import (
	"context"
	"fmt"
	"sort"

	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/observability"
)

type agentDay struct {
	name         string
	users        int
	interactions int
}

// ProcessAgentUsageAggregations rolls one day of per-user agent usage into the
// per-agent weekly, monthly and all-time totals. It returns the number of
// distinct agents seen. Re-running a day that was already rolled up is a no-op.
// Like every other write path it is refused while ingestion is paused.
func (e *Engine) ProcessAgentUsageAggregations(ctx context.Context, date string) (int, error) {
	ctx, span := observability.Tracer("aggregation").Start(ctx, "aggregation.ProcessAgentUsageAggregations")
	defer span.End()

	day, err := types.ParseDate(date)
	if err != nil {
		return 0, err
	}
	if err := e.checkPaused(ctx); err != nil {
		return 0, err
	}
	totals := map[string]*agentDay{}
	pager := e.deps.Daily.AgentDay(ctx, date, 1000)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("scan daily agent usage: %w", err)
		}
		for _, row := range page {
			n := row.Int(types.PropTotalInteractionCount)
			if n <= 0 {
				continue
			}
			t, ok := totals[row.RowKey]
			if !ok {
				t = &agentDay{}
				totals[row.RowKey] = t
			}
			if t.name == "" {
				t.name = row.String(types.PropAgentName)
			}
			t.users++
			t.interactions += n
		}
	}

	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := totals[id]
		for _, tf := range types.RollupTimeframes {
			pk := types.AgentTotalsPartition(tf, e.deps.Calendar.WindowStart(tf, day))
			if _, err := e.deps.Aggregates.AddAgentTotal(ctx, tf, pk, id, t.name, date, t.users, t.interactions); err != nil {
				return 0, fmt.Errorf("agent total %s %s: %w", tf, id, err)
			}
		}
	}
	e.log.Info("Rolled up agent usage", "date", date, "agents", len(ids))
	return len(ids), nil
}
