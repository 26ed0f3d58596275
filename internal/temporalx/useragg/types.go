package useragg

import (
	"github.com/yungbote/copilot-adoption-backend/internal/queue"
)

const (
	WorkflowName  = "user_aggregation"
	ActivityApply = "user_aggregation_apply"

	errTypeNotStaged = "SnapshotNotStaged"
)

// WorkflowID is unique per user and report date, so the server rejects a
// second start for the same delivery.
func WorkflowID(m queue.Message) string {
	return "user-aggregation-" + m.ReportRefreshDate + "-" + m.EncryptedUPN
}

type ApplyResult struct {
	Paused bool `json:"paused,omitempty"`
}
