package useragg

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/copilot-adoption-backend/internal/queue"
)

const (
	pausedPollInterval = 5 * time.Minute
	maxPausedPolls     = 288
)

// Workflow applies one user's staged snapshot. While ingestion is paused it
// waits and tries again instead of burning activity retries.
func Workflow(ctx workflow.Context, m queue.Message) error {
	if err := m.Validate(); err != nil {
		return temporal.NewNonRetryableApplicationError(err.Error(), "InvalidMessage", err)
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{errTypeNotStaged},
		},
	})

	for polls := 0; ; polls++ {
		var out ApplyResult
		if err := workflow.ExecuteActivity(ctx, ActivityApply, m).Get(ctx, &out); err != nil {
			return err
		}
		if !out.Paused {
			return nil
		}
		if polls >= maxPausedPolls {
			return fmt.Errorf("useragg: ingestion still paused after %d polls", polls)
		}
		if err := workflow.Sleep(ctx, pausedPollInterval); err != nil {
			return err
		}
	}
}
