package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yungbote/copilot-adoption-backend/internal/platform/envutil"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
)

// sliCounters are monotonic totals sampled by the SLO evaluator.
type sliCounters struct {
	mu sync.Mutex

	apiTotal float64
	apiError float64
	apiFast  float64

	queueTotal float64
	queueDead  float64

	aggTotal  float64
	aggFailed float64
}

type sliSnapshot struct {
	apiTotal, apiError, apiFast float64
	queueTotal, queueDead       float64
	aggTotal, aggFailed         float64
}

func (c *sliCounters) observeAPI(status int, dur, fast time.Duration) {
	c.mu.Lock()
	c.apiTotal++
	if status >= 500 {
		c.apiError++
	}
	if dur <= fast {
		c.apiFast++
	}
	c.mu.Unlock()
}

// observeQueue counts terminal deliveries only; retries and pauses are not
// outcomes yet.
func (c *sliCounters) observeQueue(event string) {
	c.mu.Lock()
	switch event {
	case "acked":
		c.queueTotal++
	case "dead":
		c.queueTotal++
		c.queueDead++
	}
	c.mu.Unlock()
}

func (c *sliCounters) observeAggregation(result string) {
	c.mu.Lock()
	c.aggTotal++
	if result == "failed" {
		c.aggFailed++
	}
	c.mu.Unlock()
}

func (c *sliCounters) snapshot() sliSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sliSnapshot{
		apiTotal: c.apiTotal, apiError: c.apiError, apiFast: c.apiFast,
		queueTotal: c.queueTotal, queueDead: c.queueDead,
		aggTotal: c.aggTotal, aggFailed: c.aggFailed,
	}
}

type sloGauges struct {
	compliance *prometheus.GaugeVec
	budget     *prometheus.GaugeVec
	burn       *prometheus.GaugeVec
}

func newSLOGauges() sloGauges {
	labels := []string{"slo", "window"}
	return sloGauges{
		compliance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "slo", Name: "compliance",
			Help: "Observed SLI over the rolling window.",
		}, labels),
		budget: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "slo", Name: "error_budget_remaining",
			Help: "Fraction of the error budget left in the rolling window.",
		}, labels),
		burn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "slo", Name: "burn_rate",
			Help: "Error budget burn rate over the rolling window.",
		}, labels),
	}
}

type rollingSum struct {
	values []float64
	idx    int
	total  float64
}

func newRollingSum(size int) *rollingSum {
	if size < 1 {
		size = 1
	}
	return &rollingSum{values: make([]float64, size)}
}

func (r *rollingSum) add(v float64) {
	r.total += v - r.values[r.idx]
	r.values[r.idx] = v
	r.idx++
	if r.idx >= len(r.values) {
		r.idx = 0
	}
}

type sloTargets struct {
	apiAvail    float64
	apiLatency  float64
	queue       float64
	aggregation float64
}

type SLOEvaluator struct {
	metrics *Metrics
	log     *logger.Logger

	interval    time.Duration
	windowLabel string
	targets     sloTargets

	apiTotal   *rollingSum
	apiError   *rollingSum
	apiFast    *rollingSum
	queueTotal *rollingSum
	queueDead  *rollingSum
	aggTotal   *rollingSum
	aggFailed  *rollingSum

	prev sliSnapshot

	alertWebhook     string
	alertOwner       string
	alertRunbook     string
	alertMinInterval time.Duration
	alertBurnWarn    float64
	alertBurnCrit    float64
	client           *http.Client

	alertMu    sync.Mutex
	lastAlerts map[string]time.Time
}

// StartSLOEvaluator samples the SLI counters every SLO_EVAL_INTERVAL and
// exports compliance, budget and burn gauges. Alerts go to
// SLO_ALERT_WEBHOOK_URL when both it and SLO_ALERT_OWNER are set.
func (m *Metrics) StartSLOEvaluator(ctx context.Context, log *logger.Logger) {
	if m == nil || !envutil.Bool("SLO_ENABLED", false) {
		return
	}
	eval := newSLOEvaluator(m, log)
	go eval.run(ctx)
	if log != nil {
		log.Info("SLO evaluator started", "window", eval.windowLabel, "interval", eval.interval.String())
	}
}

func newSLOEvaluator(m *Metrics, log *logger.Logger) *SLOEvaluator {
	interval := envutil.Duration("SLO_EVAL_INTERVAL", time.Minute)
	if interval <= 0 {
		interval = time.Minute
	}
	window := envutil.Duration("SLO_WINDOW", 30*24*time.Hour)
	if window < time.Hour {
		window = 24 * time.Hour
	}
	size := int(window / interval)
	return &SLOEvaluator{
		metrics:     m,
		log:         log,
		interval:    interval,
		windowLabel: formatWindowLabel(window),
		targets: sloTargets{
			apiAvail:    clamp01(envutil.Float("SLO_API_AVAIL_TARGET", 0.995)),
			apiLatency:  clamp01(envutil.Float("SLO_API_LATENCY_TARGET", 0.95)),
			queue:       clamp01(envutil.Float("SLO_QUEUE_SUCCESS_TARGET", 0.99)),
			aggregation: clamp01(envutil.Float("SLO_AGGREGATION_SUCCESS_TARGET", 0.99)),
		},
		apiTotal:         newRollingSum(size),
		apiError:         newRollingSum(size),
		apiFast:          newRollingSum(size),
		queueTotal:       newRollingSum(size),
		queueDead:        newRollingSum(size),
		aggTotal:         newRollingSum(size),
		aggFailed:        newRollingSum(size),
		alertWebhook:     envutil.String("SLO_ALERT_WEBHOOK_URL", ""),
		alertOwner:       envutil.String("SLO_ALERT_OWNER", ""),
		alertRunbook:     envutil.String("SLO_ALERT_RUNBOOK_URL", ""),
		alertMinInterval: envutil.Duration("SLO_ALERT_MIN_INTERVAL", 15*time.Minute),
		alertBurnWarn:    envutil.Float("SLO_ALERT_BURN_RATE_WARN", 2),
		alertBurnCrit:    envutil.Float("SLO_ALERT_BURN_RATE_CRIT", 10),
		client:           &http.Client{Timeout: 5 * time.Second},
		lastAlerts:       map[string]time.Time{},
	}
}

func (e *SLOEvaluator) run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.evaluate(ctx)
		}
	}
}

func (e *SLOEvaluator) evaluate(ctx context.Context) {
	cur := e.metrics.sli.snapshot()
	p := e.prev
	e.prev = cur

	e.apiTotal.add(delta(cur.apiTotal, p.apiTotal))
	e.apiError.add(delta(cur.apiError, p.apiError))
	e.apiFast.add(delta(cur.apiFast, p.apiFast))
	e.queueTotal.add(delta(cur.queueTotal, p.queueTotal))
	e.queueDead.add(delta(cur.queueDead, p.queueDead))
	e.aggTotal.add(delta(cur.aggTotal, p.aggTotal))
	e.aggFailed.add(delta(cur.aggFailed, p.aggFailed))

	e.evalSLO(ctx, "api_availability", e.apiTotal.total, e.apiError.total, e.targets.apiAvail)
	e.evalSLO(ctx, "api_latency", e.apiTotal.total, e.apiTotal.total-e.apiFast.total, e.targets.apiLatency)
	e.evalSLO(ctx, "queue_delivery", e.queueTotal.total, e.queueDead.total, e.targets.queue)
	e.evalSLO(ctx, "snapshot_aggregation", e.aggTotal.total, e.aggFailed.total, e.targets.aggregation)
}

func (e *SLOEvaluator) evalSLO(ctx context.Context, name string, total, bad, target float64) {
	g := e.metrics.slo
	if total <= 0 {
		g.compliance.WithLabelValues(name, e.windowLabel).Set(1)
		g.budget.WithLabelValues(name, e.windowLabel).Set(1)
		g.burn.WithLabelValues(name, e.windowLabel).Set(0)
		return
	}
	sli := clamp01(1 - bad/total)
	burn := 0.0
	if target < 1 {
		burn = (1 - sli) / (1 - target)
	}
	budget := clamp01(1 - burn)
	g.compliance.WithLabelValues(name, e.windowLabel).Set(sli)
	g.budget.WithLabelValues(name, e.windowLabel).Set(budget)
	g.burn.WithLabelValues(name, e.windowLabel).Set(burn)

	if e.alertWebhook == "" || e.alertOwner == "" {
		return
	}
	severity := ""
	if burn >= e.alertBurnCrit {
		severity = "critical"
	} else if burn >= e.alertBurnWarn {
		severity = "warning"
	}
	if severity == "" {
		return
	}
	key := name + ":" + severity
	e.alertMu.Lock()
	last := e.lastAlerts[key]
	if !last.IsZero() && time.Since(last) < e.alertMinInterval {
		e.alertMu.Unlock()
		return
	}
	e.lastAlerts[key] = time.Now()
	e.alertMu.Unlock()
	e.sendAlert(ctx, name, severity, sli, target, burn, budget)
}

func (e *SLOEvaluator) sendAlert(ctx context.Context, name, severity string, sli, target, burn, budget float64) {
	payload := map[string]any{
		"title":                  "SLO burn rate alert",
		"severity":               severity,
		"owner":                  e.alertOwner,
		"slo":                    name,
		"window":                 e.windowLabel,
		"sli":                    sli,
		"target":                 target,
		"burn_rate":              burn,
		"error_budget_remaining": budget,
		"runbook":                e.alertRunbook,
		"timestamp":              time.Now().UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.alertWebhook, bytes.NewReader(body))
	if err != nil {
		if e.log != nil {
			e.log.Warn("slo alert request build failed", "error", err, "slo", name)
		}
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		if e.log != nil {
			e.log.Warn("slo alert post failed", "error", err, "slo", name)
		}
		return
	}
	_ = resp.Body.Close()
	if e.log != nil {
		e.log.Info("slo alert sent", "slo", name, "severity", severity, "status", resp.StatusCode)
	}
}

// delta treats a drop as a counter reset.
func delta(current, prev float64) float64 {
	if current < prev {
		return current
	}
	return current - prev
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func formatWindowLabel(window time.Duration) string {
	hours := int(window.Hours())
	switch {
	case hours >= 24 && hours%24 == 0:
		return strconv.Itoa(hours/24) + "d"
	case hours >= 1:
		return strconv.Itoa(hours) + "h"
	default:
		return strconv.Itoa(int(window.Minutes())) + "m"
	}
}
