package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/copilot-adoption-backend/internal/data/db"
	"github.com/yungbote/copilot-adoption-backend/internal/data/kvstore"
	"github.com/yungbote/copilot-adoption-backend/internal/modules/exclusion"
	"github.com/yungbote/copilot-adoption-backend/internal/observability"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/gcp"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/redisx"
	"github.com/yungbote/copilot-adoption-backend/internal/temporalx"
)

type Clients struct {
	// PG is nil when the memory store backs the process.
	PG       *db.PostgresService
	Store    kvstore.Store
	Redis    *goredis.Client
	Temporal temporalsdkclient.Client
	Objects  *gcp.ObjectReader
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config, metrics *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	switch cfg.StoreBackend {
	case StoreBackendMemory:
		log.Warn("Using in-memory store; data is lost on restart")
		out.Store = kvstore.NewMemoryStore()
	default:
		pg, err := db.Open(db.ConfigFromEnv(cfg.StoreBackend), log)
		if err != nil {
			return Clients{}, fmt.Errorf("init database: %w", err)
		}
		gs := kvstore.NewGormStore(pg.DB(), log)
		if err := pg.Migrate(gs); err != nil {
			_ = pg.Close()
			return Clients{}, fmt.Errorf("database migrate: %w", err)
		}
		out.PG = pg
		out.Store = gs
	}
	if metrics != nil {
		out.Store = kvstore.Instrument(out.Store, metrics)
	}

	switch cfg.QueueBackend {
	case QueueBackendTemporal:
		tc, err := temporalx.NewClient(temporalx.LoadConfig(), log)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init temporal client: %w", err)
		}
		if tc == nil {
			out.Close()
			return Clients{}, fmt.Errorf("QUEUE_BACKEND=temporal requires TEMPORAL_ADDRESS")
		}
		out.Temporal = tc
	default:
		rdb, err := redisx.NewClient(ctx, redisx.ConfigFromEnv(cfg.RedisAddr), log)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init redis client: %w", err)
		}
		out.Redis = rdb
	}

	if cfg.ExclusionGCSBucket != "" {
		scfg, err := gcp.StorageConfigFromEnv()
		if err != nil {
			out.Close()
			return Clients{}, err
		}
		objects, err := gcp.NewObjectReader(ctx, scfg, log)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init object reader: %w", err)
		}
		out.Objects = objects
	}
	return out, nil
}

// exclusionLoader prefers the object list when a bucket is configured.
func exclusionLoader(cfg Config, c Clients) exclusion.Loader {
	if c.Objects != nil {
		return exclusion.ObjectLoader{Reader: c.Objects, Bucket: cfg.ExclusionGCSBucket, Key: cfg.ExclusionGCSObject}
	}
	return exclusion.StaticLoader(cfg.ExclusionEmails)
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Objects != nil {
		_ = c.Objects.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.PG != nil {
		_ = c.PG.Close()
	}
}
