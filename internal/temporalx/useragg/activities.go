package useragg

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/copilot-adoption-backend/internal/modules/aggregation"
	"github.com/yungbote/copilot-adoption-backend/internal/observability"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
	"github.com/yungbote/copilot-adoption-backend/internal/queue"
)

type Activities struct {
	Log     *logger.Logger
	Handler queue.Handler
	Metrics *observability.Metrics
}

func (a *Activities) Apply(ctx context.Context, m queue.Message) (ApplyResult, error) {
	if a == nil || a.Handler == nil {
		return ApplyResult{}, fmt.Errorf("useragg: activity not configured")
	}
	err := a.Handler.ApplySingleUser(ctx, m.EncryptedUPN, m.ReportRefreshDate)
	switch {
	case err == nil:
		a.Metrics.IncQueue(ActivityApply, "acked")
		return ApplyResult{}, nil
	case errors.Is(err, aggregation.ErrIngestionPaused):
		a.Metrics.IncQueue(ActivityApply, "paused")
		return ApplyResult{Paused: true}, nil
	case errors.Is(err, aggregation.ErrSnapshotNotStaged):
		a.Metrics.IncQueue(ActivityApply, "dead")
		a.Log.Warn("No staged snapshot for user", "encrypted_upn", m.EncryptedUPN, "report_refresh_date", m.ReportRefreshDate)
		return ApplyResult{}, temporal.NewNonRetryableApplicationError(err.Error(), errTypeNotStaged, err)
	default:
		a.Metrics.IncQueue(ActivityApply, "retried")
		return ApplyResult{}, err
	}
}
