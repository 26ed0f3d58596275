package app

import (
	"context"

	"github.com/yungbote/copilot-adoption-backend/internal/data/repos"
	httpapi "github.com/yungbote/copilot-adoption-backend/internal/http"
	httpH "github.com/yungbote/copilot-adoption-backend/internal/http/handlers"
	httpMW "github.com/yungbote/copilot-adoption-backend/internal/http/middleware"
	"github.com/yungbote/copilot-adoption-backend/internal/observability"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

type Handlers struct {
	Health    *httpH.HealthHandler
	Webhook   *httpH.WebhookHandler
	Rotation  *httpH.RotationHandler
	Snapshot  *httpH.SnapshotHandler
	Query     *httpH.QueryHandler
	Exclusion *httpH.ExclusionHandler
	Feed      *httpH.FeedHandler
	Seed      *httpH.SeedHandler
}

func wireHandlers(log *logger.Logger, clients Clients, reposet repos.Set, services Services) Handlers {
	log.Info("Wiring handlers...")
	checks := map[string]httpH.Pinger{}
	if clients.PG != nil {
		checks["database"] = clients.PG
	}
	if clients.Redis != nil {
		rdb := clients.Redis
		checks["redis"] = httpH.PingerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	var seed *httpH.SeedHandler
	if services.Seeder != nil {
		seed = httpH.NewSeedHandler(services.Seeder, services.Enc)
	}
	return Handlers{
		Health:    httpH.NewHealthHandler(checks),
		Webhook:   httpH.NewWebhookHandler(services.Webhook),
		Rotation:  httpH.NewRotationHandler(services.Rotation),
		Snapshot:  httpH.NewSnapshotHandler(services.Engine, reposet.State, services.Enc),
		Query:     httpH.NewQueryHandler(services.Queries),
		Exclusion: httpH.NewExclusionHandler(services.Exclusion),
		Feed:      httpH.NewFeedHandler(services.Webhook),
		Seed:      seed,
	}
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *httpapi.Server {
	return httpapi.NewServer(httpapi.RouterConfig{
		Log:              log,
		Metrics:          metrics,
		CORSOrigins:      cfg.CORSOrigins,
		ServiceName:      cfg.ServiceName,
		AdminAuth:        httpMW.NewAdminAuth(log, cfg.AdminJWTSecret),
		HealthHandler:    handlers.Health,
		WebhookHandler:   handlers.Webhook,
		RotationHandler:  handlers.Rotation,
		SnapshotHandler:  handlers.Snapshot,
		QueryHandler:     handlers.Query,
		ExclusionHandler: handlers.Exclusion,
		FeedHandler:      handlers.Feed,
		SeedHandler:      handlers.Seed,
	})
}
