package app

import (
	"context"
	"fmt"

	"github.com/yungbote/copilot-adoption-backend/internal/data/repos"
	"github.com/yungbote/copilot-adoption-backend/internal/domain/usage"
	"github.com/yungbote/copilot-adoption-backend/internal/jobs/scheduler"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/aggregation"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/exclusion"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/ingestion"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/queries"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/rotation"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/seeding"
	"github.com/yungbote/copilot-adoption-backend/internal/observability"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/identcrypt"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
	"github.com/yungbote/copilot-adoption-backend/internal/queue"
	"github.com/yungbote/copilot-adoption-backend/internal/temporalx"
	"github.com/yungbote/copilot-adoption-backend/internal/temporalx/useragg"
)

type Services struct {
	Secrets    identcrypt.SecretProvider
	Enc        *identcrypt.Service
	Dispatcher *queue.Dispatcher
	Engine     *aggregation.Engine
	Rotation   *rotation.Controller
	Exclusion  *exclusion.Cache
	Ingestion  *ingestion.Service
	Webhook    *ingestion.Webhook
	Queries    *queries.Service
	Scheduler  *scheduler.Scheduler

	// Seeder is nil unless test seeding is enabled.
	Seeder *seeding.Seeder
}

func wireServices(ctx context.Context, log *logger.Logger, cfg Config, clients Clients, reposet repos.Set, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	secrets := identcrypt.ChainSecrets{identcrypt.EnvSecrets{}, identcrypt.StaticSecrets(cfg.Secrets)}
	enc, err := identcrypt.NewFromActiveKey(ctx, secrets, cfg.EncryptionKeySecretName)
	if err != nil {
		return Services{}, fmt.Errorf("init encryption service: %w", err)
	}

	weekStart, err := usage.ParseWeekStart(cfg.WeekStart)
	if err != nil {
		return Services{}, err
	}

	var (
		sender  queue.Sender
		backlog rotation.Backlog
	)
	switch {
	case clients.Temporal != nil:
		tcfg := temporalx.LoadConfig()
		sender = useragg.NewSender(clients.Temporal, tcfg.TaskQueue)
		backlog = useragg.NewBacklog(clients.Temporal, tcfg.Namespace, tcfg.TaskQueue)
	case clients.Redis != nil:
		sender = queue.NewRedisSender(clients.Redis, cfg.QueueName)
		backlog = queue.NewRedisBacklog(clients.Redis, cfg.QueueName)
	default:
		return Services{}, fmt.Errorf("no queue backend configured")
	}
	dispatcher := queue.NewDispatcher(sender, metrics, log)

	engine := aggregation.New(aggregation.Deps{
		Log:          log,
		Aggregates:   reposet.Aggregates,
		Daily:        reposet.Daily,
		Inactivity:   reposet.Inactivity,
		State:        reposet.State,
		Snapshots:    reposet.Snapshots,
		Dispatcher:   dispatcher,
		Metrics:      metrics,
		Calendar:     usage.Calendar{WeekStart: weekStart},
		ReminderDays: cfg.ReminderDays,
	})

	rcfg := rotation.DefaultConfig()
	rcfg.WindowDays = cfg.RotationWindowDays
	rcfg.ChunkDelay = cfg.RotationChunkDelay
	rcfg.PageDelay = cfg.RotationPageDelay
	processor := rotation.NewProcessor(rotation.Deps{
		Log:      log,
		Store:    clients.Store,
		State:    reposet.State,
		Progress: reposet.Rotation,
		Metrics:  metrics,
		Config:   rcfg,
	})
	controller := rotation.NewController(rotation.ControllerDeps{
		Log:           log,
		State:         reposet.State,
		Processor:     processor,
		Secrets:       secrets,
		ActiveKeyName: cfg.EncryptionKeySecretName,
		Enc:           enc,
		Backlog:       backlog,
	})

	cache := exclusion.NewCache(exclusion.Deps{
		Log:       log,
		Loader:    exclusionLoader(cfg, clients),
		Metrics:   metrics,
		TTL:       cfg.ExclusionCacheTTL,
		Exclusive: cfg.IsEmailListExclusive,
	})

	ingest := ingestion.New(ingestion.Deps{
		Log:       log,
		Daily:     reposet.Daily,
		Ingestion: reposet.Ingestion,
		State:     reposet.State,
		Filter:    cache,
		Metrics:   metrics,
	})

	var (
		source ingestion.AuditSource
		feed   ingestion.Feed
	)
	if scfg := ingestion.AuditSourceConfigFromEnv(); scfg.Enabled() {
		s, err := ingestion.NewHTTPAuditSource(ctx, scfg, log)
		if err != nil {
			return Services{}, fmt.Errorf("init audit source: %w", err)
		}
		source = s
		if scfg.TenantID != "" {
			fc, err := ingestion.NewFeedClient(ctx, scfg, log)
			if err != nil {
				return Services{}, fmt.Errorf("init activity feed: %w", err)
			}
			feed = fc
		}
	} else {
		log.Warn("Audit source not configured; webhook notifications will not be fetched")
	}
	webhook := ingestion.NewWebhook(ingestion.WebhookDeps{
		Log:      log,
		Service:  ingest,
		Source:   source,
		Feed:     feed,
		Enc:      enc,
		AuthGUID: cfg.AuthGUID,
	})

	sched, err := scheduler.New(scheduler.Deps{
		Log:                  log,
		Agents:               engine,
		Exclusion:            cache,
		AgentRollupSpec:      cfg.AgentRollupCron,
		ExclusionRefreshSpec: cfg.ExclusionRefreshCron,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init scheduler: %w", err)
	}

	var seeder *seeding.Seeder
	if cfg.EnableSeeding {
		log.Warn("Test data seeding is enabled")
		seeder = seeding.New(seeding.Deps{
			Log:        log,
			Aggregates: reposet.Aggregates,
			Inactivity: reposet.Inactivity,
			State:      reposet.State,
			Calendar:   usage.Calendar{WeekStart: weekStart},
		})
	}

	return Services{
		Secrets:    secrets,
		Enc:        enc,
		Dispatcher: dispatcher,
		Engine:     engine,
		Rotation:   controller,
		Exclusion:  cache,
		Ingestion:  ingest,
		Webhook:    webhook,
		Queries: queries.New(queries.Deps{
			Log:        log,
			Aggregates: reposet.Aggregates,
			Daily:      reposet.Daily,
			Inactivity: reposet.Inactivity,
			State:      reposet.State,
			Enc:        enc,
		}),
		Scheduler: sched,
		Seeder:    seeder,
	}, nil
}
