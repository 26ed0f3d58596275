package observability

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/x", "200", time.Millisecond)
	m.ObserveStoreOp("t", "get", "ok", time.Millisecond)
	m.ObserveRotation("t", "row_key", 1, 0, 0, time.Second)
	m.IncQueue("q", "acked")
	m.IncIngestionWriteFailure("unhandled_host")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 503 {
		t.Fatalf("nil handler: want=503 got=%d", rec.Code)
	}
}

func TestMetricsRecordAndExpose(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveAPI("POST", "/api/webhook/events", "200", 10*time.Millisecond)
	m.ObserveAPI("POST", "/api/webhook/events", "200", 20*time.Millisecond)
	m.ObserveRotation("T", "partition_key", 3, 1, 2, time.Second)
	m.IncQueue("user-aggregations", "dead")

	if got := promtest.ToFloat64(m.apiRequests.WithLabelValues("POST", "/api/webhook/events", "200")); got != 2 {
		t.Fatalf("api requests: want=2 got=%v", got)
	}
	if got := promtest.ToFloat64(m.rotationRows.WithLabelValues("T", "skipped")); got != 2 {
		t.Fatalf("rotation skipped: want=2 got=%v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `adoption_queue_events_total{event="dead",queue="user-aggregations"} 1`) {
		t.Fatalf("exposition missing queue counter:\n%s", body)
	}
}

func TestSLOEvaluatorBurnRate(t *testing.T) {
	t.Setenv("SLO_EVAL_INTERVAL", "1m")
	t.Setenv("SLO_WINDOW", "24h")
	m := New(prometheus.NewRegistry())
	for i := 0; i < 98; i++ {
		m.ObserveAPI("GET", "/api/users/inactive", "200", 10*time.Millisecond)
	}
	m.ObserveAPI("GET", "/api/users/inactive", "500", 10*time.Millisecond)
	m.ObserveAPI("GET", "/api/users/inactive", "503", 2*time.Second)
	m.IncQueue("user-aggregations", "acked")
	m.IncQueue("user-aggregations", "retried")

	eval := newSLOEvaluator(m, nil)
	eval.evaluate(context.Background())

	if got := promtest.ToFloat64(m.slo.compliance.WithLabelValues("api_availability", "1d")); !approx(got, 0.98) {
		t.Fatalf("availability: want=0.98 got=%v", got)
	}
	// 2% errors against a 0.5% budget burns at 4x.
	if got := promtest.ToFloat64(m.slo.burn.WithLabelValues("api_availability", "1d")); !approx(got, 4) {
		t.Fatalf("burn: want=4 got=%v", got)
	}
	if got := promtest.ToFloat64(m.slo.compliance.WithLabelValues("api_latency", "1d")); !approx(got, 0.99) {
		t.Fatalf("latency: want=0.99 got=%v", got)
	}
	if got := promtest.ToFloat64(m.slo.compliance.WithLabelValues("queue_delivery", "1d")); got != 1 {
		t.Fatalf("queue: want=1 got=%v", got)
	}
	if got := promtest.ToFloat64(m.slo.compliance.WithLabelValues("snapshot_aggregation", "1d")); got != 1 {
		t.Fatalf("no aggregations means compliant: got=%v", got)
	}
}

func approx(got, want float64) bool {
	d := got - want
	return d < 1e-9 && d > -1e-9
}
