package app

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/copilot-adoption-backend/internal/data/repos"
	httpapi "github.com/yungbote/copilot-adoption-backend/internal/http"
	"github.com/yungbote/copilot-adoption-backend/internal/observability"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
	"github.com/yungbote/copilot-adoption-backend/internal/queue"
	"github.com/yungbote/copilot-adoption-backend/internal/temporalx"
	"github.com/yungbote/copilot-adoption-backend/internal/temporalx/temporalworker"
)

// Mode selects which parts of the process run.
type Mode string

const (
	ModeAPI    Mode = "api"
	ModeWorker Mode = "worker"
	ModeAll    Mode = "all"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAll:
		return ModeAll, nil
	case ModeAPI:
		return ModeAPI, nil
	case ModeWorker:
		return ModeWorker, nil
	default:
		return "", fmt.Errorf("invalid run mode %q (allowed: %q, %q, %q)", s, ModeAPI, ModeWorker, ModeAll)
	}
}

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Mode     Mode
	Metrics  *observability.Metrics
	Clients  Clients
	Repos    repos.Set
	Services Services
	Server   *httpapi.Server

	otelShutdown func(context.Context) error
}

func New(ctx context.Context, log *logger.Logger, mode Mode) (*App, error) {
	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	metrics := observability.Init(log)
	shutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	})

	clients, err := wireClients(ctx, log, cfg, metrics)
	if err != nil {
		return nil, err
	}
	reposet := repos.New(clients.Store, log)

	services, err := wireServices(ctx, log, cfg, clients, reposet, metrics)
	if err != nil {
		clients.Close()
		return nil, err
	}

	a := &App{
		Log:          log,
		Cfg:          cfg,
		Mode:         mode,
		Metrics:      metrics,
		Clients:      clients,
		Repos:        reposet,
		Services:     services,
		otelShutdown: shutdown,
	}
	if mode != ModeWorker {
		a.Server = wireServer(log, cfg, wireHandlers(log, clients, reposet, services), metrics)
	}
	return a, nil
}

// Run blocks until ctx is cancelled or a component fails. The API server,
// the queue consumer and the scheduler share one errgroup.
func (a *App) Run(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)

	a.startCollectors(gctx)

	if a.Server != nil {
		addr := ":" + strings.TrimPrefix(a.Cfg.Port, ":")
		g.Go(func() error { return a.Server.Run(gctx, addr) })
	}

	if a.Mode != ModeAPI {
		a.Services.Scheduler.Start(gctx)
		switch {
		case a.Clients.Temporal != nil:
			runner, err := temporalworker.NewRunner(a.Log, temporalx.LoadConfig(), a.Clients.Temporal, a.Services.Engine, a.Metrics)
			if err != nil {
				return err
			}
			if err := runner.Start(gctx); err != nil {
				return fmt.Errorf("start temporal worker: %w", err)
			}
		case a.Clients.Redis != nil:
			ccfg := queue.ConsumerConfigFromEnv()
			ccfg.Queue = a.Cfg.QueueName
			consumer := queue.NewConsumer(a.Clients.Redis, a.Services.Engine, ccfg, a.Metrics, a.Log)
			g.Go(func() error { return consumer.Run(gctx) })
		}
	}

	a.Log.Info("Application started", "mode", a.Mode, "store", a.Cfg.StoreBackend, "queue", a.Cfg.QueueBackend)
	return g.Wait()
}

func (a *App) startCollectors(ctx context.Context) {
	if a.Metrics == nil {
		return
	}
	if a.Clients.PG != nil {
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.Clients.PG.DB())
	}
	if a.Clients.Redis != nil {
		a.Metrics.StartQueueCollector(ctx, a.Log, a.Clients.Redis, a.Cfg.QueueName, queue.DeadLetterList(a.Cfg.QueueName))
	}
	a.Metrics.StartSLOEvaluator(ctx, a.Log)
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	a.Clients.Close()
	a.Log.Sync()
}
