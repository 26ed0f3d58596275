package observability

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/copilot-adoption-backend/internal/platform/envutil"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

const namespace = "adoption"

// Metrics is nil-safe: every method on a nil *Metrics is a no-op, so callers
// never branch on whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	storeOps     *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec

	aggregations     *prometheus.CounterVec
	aggregationTime  prometheus.Histogram
	classified       *prometheus.CounterVec
	webhookCalls     *prometheus.CounterVec
	ingestFailures   *prometheus.CounterVec
	queueEvents      *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
	rotationRows     *prometheus.CounterVec
	rotationDuration *prometheus.HistogramVec
	exclusionSize    prometheus.Gauge
	pgStats          *prometheus.GaugeVec
	redisUp          prometheus.Gauge

	slo           sloGauges
	sli           sliCounters
	fastThreshold time.Duration
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("METRICS_SCRAPE_INTERVAL_SECONDS"))
	if v == "" {
		return 10 * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n) * time.Second
}

// Init builds the process-wide metrics when METRICS_ENABLED is set; otherwise it
// returns nil.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		instance = New(reg)
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// New registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	latencyBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api", Name: "requests_total",
			Help: "API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "api", Name: "request_duration_seconds",
			Help: "API request latency in seconds.", Buckets: latencyBuckets,
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "api", Name: "inflight_requests",
			Help: "In-flight API requests.",
		}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "operations_total",
			Help: "Key-value store operations by table, op and outcome.",
		}, []string{"table", "op", "outcome"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "operation_duration_seconds",
			Help: "Key-value store operation latency in seconds.", Buckets: latencyBuckets,
		}, []string{"op"}),
		aggregations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "aggregation", Name: "snapshots_total",
			Help: "Per-user snapshots folded into aggregates, by result.",
		}, []string{"result"}),
		aggregationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "aggregation", Name: "snapshot_duration_seconds",
			Help: "Time to apply one user's daily snapshot.", Buckets: latencyBuckets,
		}),
		classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingestion", Name: "interactions_total",
			Help: "Audit interactions by application bucket.",
		}, []string{"app"}),
		webhookCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingestion", Name: "webhook_calls_total",
			Help: "Webhook invocations by outcome.",
		}, []string{"outcome"}),
		ingestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingestion", Name: "write_failures_total",
			Help: "Side writes lost during ingestion (unhandled host counters, interaction details).",
		}, []string{"write"}),
		queueEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "events_total",
			Help: "Aggregation queue events (sent, acked, retried, paused, dead).",
		}, []string{"queue", "event"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "queue", Name: "depth",
			Help: "Messages waiting in a queue list.",
		}, []string{"queue"}),
		rotationRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rotation", Name: "rows_total",
			Help: "Rows visited by key rotation, by table and result.",
		}, []string{"table", "result"}),
		rotationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "rotation", Name: "table_duration_seconds",
			Help: "Time to rotate one table.", Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"table", "mode"}),
		exclusionSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "exclusion", Name: "entries",
			Help: "Entries in the cached exclusion list.",
		}),
		pgStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "postgres", Name: "pool",
			Help: "database/sql pool statistics.",
		}, []string{"stat"}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "redis", Name: "up",
			Help: "1 when the last redis ping succeeded.",
		}),
		slo:           newSLOGauges(),
		fastThreshold: envutil.Duration("SLO_API_LATENCY_THRESHOLD", time.Second),
	}
	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.storeOps, m.storeLatency,
		m.aggregations, m.aggregationTime, m.classified, m.webhookCalls, m.ingestFailures,
		m.queueEvents, m.queueDepth,
		m.rotationRows, m.rotationDuration,
		m.exclusionSize, m.pgStats, m.redisUp,
		m.slo.compliance, m.slo.budget, m.slo.burn,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
	code, _ := strconv.Atoi(status)
	m.sli.observeAPI(code, dur, m.fastThreshold)
}

// TrackInflight counts a request as in flight until the returned func runs.
func (m *Metrics) TrackInflight() func() {
	if m == nil {
		return func() {}
	}
	m.apiInflight.Inc()
	return m.apiInflight.Dec
}

// ObserveStoreOp satisfies kvstore.Observer.
func (m *Metrics) ObserveStoreOp(table, op, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(table, op, outcome).Inc()
	m.storeLatency.WithLabelValues(op).Observe(dur.Seconds())
}

// ObserveAggregation records one user snapshot: applied, skipped or failed.
func (m *Metrics) ObserveAggregation(result string, dur time.Duration) {
	if m == nil {
		return
	}
	m.aggregations.WithLabelValues(result).Inc()
	m.sli.observeAggregation(result)
	if dur > 0 {
		m.aggregationTime.Observe(dur.Seconds())
	}
}

func (m *Metrics) IncInteraction(app string) {
	if m == nil {
		return
	}
	m.classified.WithLabelValues(app).Inc()
}

func (m *Metrics) IncWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhookCalls.WithLabelValues(outcome).Inc()
}

// IncIngestionWriteFailure counts a side write that failed without failing
// the user's day.
func (m *Metrics) IncIngestionWriteFailure(write string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(write).Inc()
}

func (m *Metrics) IncQueue(queue, event string) {
	if m == nil {
		return
	}
	m.queueEvents.WithLabelValues(queue, event).Inc()
	m.sli.observeQueue(event)
}

func (m *Metrics) ObserveRotation(table, mode string, processed, errs, skipped int, dur time.Duration) {
	if m == nil {
		return
	}
	m.rotationRows.WithLabelValues(table, "processed").Add(float64(processed))
	m.rotationRows.WithLabelValues(table, "error").Add(float64(errs))
	m.rotationRows.WithLabelValues(table, "skipped").Add(float64(skipped))
	m.rotationDuration.WithLabelValues(table, mode).Observe(dur.Seconds())
}

func (m *Metrics) SetExclusionEntries(n int) {
	if m == nil {
		return
	}
	m.exclusionSize.Set(float64(n))
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: postgres stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
				m.pgStats.WithLabelValues("in_use").Set(float64(stats.InUse))
				m.pgStats.WithLabelValues("idle").Set(float64(stats.Idle))
				m.pgStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
				m.pgStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
				m.pgStats.WithLabelValues("max_open_connections").Set(float64(stats.MaxOpenConnections))
			}
		}
	}()
}

// StartQueueCollector pings redis and samples the length of each queue list.
func (m *Metrics) StartQueueCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient, queues ...string) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				for _, q := range queues {
					n, err := rdb.LLen(ctx, q).Result()
					if err != nil {
						continue
					}
					m.queueDepth.WithLabelValues(q).Set(float64(n))
				}
			}
		}
	}()
}
