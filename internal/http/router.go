package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/copilot-adoption-backend/internal/http/handlers"
	httpMW "github.com/yungbote/copilot-adoption-backend/internal/http/middleware"
	"github.com/yungbote/copilot-adoption-backend/internal/observability"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	CORSOrigins []string
	ServiceName string

	AdminAuth *httpMW.AdminAuth

	HealthHandler    *httpH.HealthHandler
	WebhookHandler   *httpH.WebhookHandler
	RotationHandler  *httpH.RotationHandler
	SnapshotHandler  *httpH.SnapshotHandler
	QueryHandler     *httpH.QueryHandler
	ExclusionHandler *httpH.ExclusionHandler
	FeedHandler      *httpH.FeedHandler
	SeedHandler      *httpH.SeedHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.TraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics, "/metrics", "/healthcheck", "/readyz"))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		// Audit feed (authenticated by the Webhook-AuthID header)
		if cfg.WebhookHandler != nil {
			api.POST("/webhook/events", cfg.WebhookHandler.Receive)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AdminAuth != nil {
			protected.Use(cfg.AdminAuth.RequireAdmin())
		}

		// Queries
		if cfg.QueryHandler != nil {
			protected.GET("/users/streak", cfg.QueryHandler.UsersWithStreak)
			protected.GET("/users/completed-activity", cfg.QueryHandler.UsersWhoCompletedActivity)
			protected.POST("/users/completed-activity", cfg.QueryHandler.UsersWhoCompletedActivity)
			protected.GET("/users/inactive", cfg.QueryHandler.InactiveUsers)
			protected.GET("/usage/today", cfg.QueryHandler.TodaysUsage)
		}

		// Key rotation
		if cfg.RotationHandler != nil {
			protected.POST("/admin/key-rotation", cfg.RotationHandler.Rotate)
		}

		// Snapshot ingestion
		if cfg.SnapshotHandler != nil {
			protected.POST("/admin/snapshots", cfg.SnapshotHandler.Ingest)
			protected.POST("/admin/agents/rollup", cfg.SnapshotHandler.RollupAgents)
			protected.GET("/admin/ingestion", cfg.SnapshotHandler.IngestionState)
		}

		// Exclusion list
		if cfg.ExclusionHandler != nil {
			protected.GET("/admin/exclusions", cfg.ExclusionHandler.Info)
			protected.POST("/admin/exclusions/refresh", cfg.ExclusionHandler.Refresh)
			protected.DELETE("/admin/exclusions/cache", cfg.ExclusionHandler.Clear)
		}

		// Activity feed
		if cfg.FeedHandler != nil {
			protected.POST("/admin/feed/pull", cfg.FeedHandler.Pull)
			protected.GET("/admin/feed/subscriptions", cfg.FeedHandler.List)
			protected.POST("/admin/feed/subscriptions", cfg.FeedHandler.Subscribe)
		}

		// Test data (only wired when seeding is enabled)
		if cfg.SeedHandler != nil {
			protected.POST("/admin/seed", cfg.SeedHandler.Seed)
		}
	}

	return r
}
