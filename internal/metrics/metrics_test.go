package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
)

func newTestRouter(c *Collector) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", c.Handler())
	return r
}

func TestNew_DisabledReturnsNil(t *testing.T) {
	if c := New(Config{Enabled: false}); c != nil {
		t.Fatalf("expected nil Collector when disabled, got %v", c)
	}
}

func TestRecordRequest_IncrementsCounterAndHistogram(t *testing.T) {
	c := New(Config{Enabled: true})
	c.RecordRequest("oauth", "claude-3-haiku-20240307", "success", 250*time.Millisecond)

	mf, err := c.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if findCounterValue(mf, "relay_requests_total") != 1 {
		t.Fatalf("expected relay_requests_total=1")
	}
}

func TestNilCollector_MethodsAreNoOps(t *testing.T) {
	var c *Collector
	c.RecordRequest("oauth", "m", "success", time.Second)
	c.RecordTTFT("oauth", "m", time.Second)
	c.SetInFlight("oauth", 3)
	c.RecordAccountRequest("a1")
	c.RecordAccountError("a1", "overloaded")
	c.SetAccountHealth("a1", true)
	c.SetAccountBreakerState("a1", 2)
	c.RecordRateLimitHit("upstream")
	c.RecordRetry("success")
	c.RecordAccountSwitch("overloaded")
	c.RecordWait("account", time.Second)
	c.SetPoolSize(5)

	tracker := c.NewRequestTracker("oauth", "m")
	tracker.MarkFirstToken()
	tracker.Finish("success")
}

func TestHandler_ServesExpositionFormat(t *testing.T) {
	c := New(Config{Enabled: true, Path: "/metrics"})
	c.RecordAccountRequest("a1")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	router := newTestRouter(c)
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty metrics body")
	}
}

func TestRequestTracker_MarkFirstTokenIsIdempotent(t *testing.T) {
	c := New(Config{Enabled: true})
	tracker := c.NewRequestTracker("web", "claude-3-opus-20240229")
	tracker.MarkFirstToken()
	tracker.MarkFirstToken()

	mf, err := c.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	count := findHistogramSampleCount(mf, "relay_time_to_first_token_seconds")
	if count != 1 {
		t.Fatalf("expected exactly one TTFT observation, got %d", count)
	}
}

func findCounterValue(families []*dto.MetricFamily, name string) float64 {
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func findHistogramSampleCount(families []*dto.MetricFamily, name string) uint64 {
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total uint64
		for _, m := range f.GetMetric() {
			total += m.GetHistogram().GetSampleCount()
		}
		return total
	}
	return 0
}
