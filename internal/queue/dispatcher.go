package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/copilot-adoption-backend/internal/observability"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// Sender delivers one message to the aggregation workers.
type Sender interface {
	Send(ctx context.Context, m Message) error
	Name() string
}

// Dispatcher fans a day's identifiers out as one message each.
type Dispatcher struct {
	sender  Sender
	metrics *observability.Metrics
	log     *logger.Logger
}

func NewDispatcher(sender Sender, metrics *observability.Metrics, baseLog *logger.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, metrics: metrics, log: baseLog.With("component", "QueueDispatcher")}
}

// QueueUserAggregations sends one message per non-empty identifier and stops
// at the first failure. Messages sent before the failure stay queued.
func (d *Dispatcher) QueueUserAggregations(ctx context.Context, encUPNs []string, reportRefreshDate string) error {
	if d == nil || d.sender == nil {
		return fmt.Errorf("queue: dispatcher not configured")
	}
	sent := 0
	for i, id := range encUPNs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := d.sender.Send(ctx, Message{EncryptedUPN: id, ReportRefreshDate: reportRefreshDate}); err != nil {
			return fmt.Errorf("queue: send message %d of %d: %w", i+1, len(encUPNs), err)
		}
		sent++
		d.metrics.IncQueue(d.sender.Name(), "sent")
	}
	d.log.Info("Queued user aggregations", "count", sent, "report_refresh_date", reportRefreshDate)
	return nil
}
