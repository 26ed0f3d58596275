package adoption

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	types "github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// IngestionRepo records audit-feed bookkeeping: unknown hosts, per-interaction
// details and webhook invocations.
type IngestionRepo interface {
	CountUnhandledHost(ctx context.Context, appHost string) error
	UnhandledHostCount(ctx context.Context, appHost string) (int, error)
	SaveInteraction(ctx context.Context, date, encUPN string, app types.AppType, rec types.AuditRecord) error
	LogTrigger(ctx context.Context, status string, notifications int) error
	TriggersOn(ctx context.Context, date string) ([]kvstore.Entity, error)
}

type ingestionRepo struct {
	store kvstore.Store
	log   *logger.Logger
	now   func() time.Time
}

func NewIngestionRepo(store kvstore.Store, baseLog *logger.Logger) IngestionRepo {
	return &ingestionRepo{store: store, log: baseLog.With("repo", "IngestionRepo"), now: time.Now}
}

// unknownHostKey stands in for an empty host tag, which is not a valid key.
const unknownHostKey = "(empty)"

func hostKey(appHost string) string {
	if appHost == "" {
		return unknownHostKey
	}
	return appHost
}

func (r *ingestionRepo) CountUnhandledHost(ctx context.Context, appHost string) error {
	k := hostKey(appHost)
	_, err := kvstore.Mutate(ctx, r.store, types.TableUnhandledAppHosts, k, k, func(e *kvstore.Entity, _ bool) (bool, error) {
		e.Set(types.PropCount, e.Int(types.PropCount)+1)
		return true, nil
	})
	return err
}

func (r *ingestionRepo) UnhandledHostCount(ctx context.Context, appHost string) (int, error) {
	k := hostKey(appHost)
	e, ok, err := r.store.GetIfExists(ctx, types.TableUnhandledAppHosts, k, k)
	if err != nil || !ok {
		return 0, err
	}
	return e.Int(types.PropCount), nil
}

func (r *ingestionRepo) SaveInteraction(ctx context.Context, date, encUPN string, app types.AppType, rec types.AuditRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	d := rec.CopilotEventData
	e := kvstore.NewEntity(date, id)
	e.Set(types.PropEncryptedUPN, encUPN)
	e.Set("App", app.String())
	e.Set("AppHost", d.AppHost)
	e.Set("ThreadId", d.ThreadID)
	e.Set("ContextTypes", d.ContextTypes())
	e.Set("AISystemPlugins", d.PluginIDs())
	e.Set("AgentId", d.AgentID)
	e.Set("AgentName", d.AgentName)
	e.Set("CreationTime", rec.CreationTime.UTC().Format(time.RFC3339))
	return r.store.Upsert(ctx, types.TableInteractionDetails, e, kvstore.Replace)
}

func (r *ingestionRepo) LogTrigger(ctx context.Context, status string, notifications int) error {
	now := r.now().UTC()
	e := kvstore.NewEntity(types.FormatDate(now), uuid.NewString())
	e.Set("Status", status)
	e.Set("Notifications", notifications)
	e.Set("TriggeredAt", now.Format(time.RFC3339Nano))
	return r.store.Add(ctx, types.TableWebhookTriggerEvents, e)
}

func (r *ingestionRepo) TriggersOn(ctx context.Context, date string) ([]kvstore.Entity, error) {
	return kvstore.Collect(ctx, r.store.Query(ctx, types.TableWebhookTriggerEvents, kvstore.Filter{PartitionEq: date}, 1000))
}
