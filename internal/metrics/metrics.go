// Package metrics exposes the fleet's Prometheus metrics: request
// throughput and latency, time-to-first-token, per-account health and
// error counts, rate-limit and retry counters, and concurrency wait
// times. Grounded on prometheus/client_golang rather than a hand-rolled
// counter map, so a standard /metrics scrape works out of the box.
package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{Enabled: true, Path: "/metrics"}
}

var requestDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}
var ttftBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
var waitBuckets = prometheus.DefBuckets

// Collector is the fleet's metrics registry. A nil *Collector is valid
// and every Record/Set method becomes a no-op, so callers don't need to
// nil-check before every call site.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec
	ttft             *prometheus.HistogramVec

	accountRequests *prometheus.CounterVec
	accountErrors   *prometheus.CounterVec
	accountHealth   *prometheus.GaugeVec
	accountBreaker  *prometheus.GaugeVec

	rateLimitHits   *prometheus.CounterVec
	retryAttempts   *prometheus.CounterVec
	accountSwitches *prometheus.CounterVec

	waitDuration *prometheus.HistogramVec
	poolClients  prometheus.Gauge
}

// New creates and registers the fleet's metrics. Returns nil when
// disabled, so downstream code can treat metrics as always-present.
func New(cfg Config) *Collector {
	if !cfg.Enabled {
		return nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{config: cfg, registry: registry}

	c.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "requests_total",
		Help:      "Total number of /v1/messages requests handled, by driver path, model and outcome.",
	}, []string{"driver", "model", "status"})

	c.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "request_duration_seconds",
		Help:      "Time from request admission to final chunk, by driver path and model.",
		Buckets:   requestDurationBuckets,
	}, []string{"driver", "model"})

	c.requestsInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "requests_in_flight",
		Help:      "Requests currently being served, by driver path.",
	}, []string{"driver"})

	c.ttft = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "time_to_first_token_seconds",
		Help:      "Time from request start to the first streamed content_block_delta.",
		Buckets:   ttftBuckets,
	}, []string{"driver", "model"})

	c.accountRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "account_requests_total",
		Help:      "Requests dispatched per account.",
	}, []string{"account_id"})

	c.accountErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "account_errors_total",
		Help:      "Upstream errors per account, by error kind.",
	}, []string{"account_id", "kind"})

	c.accountHealth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "account_healthy",
		Help:      "1 if the account's last health probe succeeded, 0 otherwise.",
	}, []string{"account_id"})

	c.accountBreaker = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "account_breaker_state",
		Help:      "Circuit breaker state per account: 0=closed, 1=half-open, 2=open.",
	}, []string{"account_id"})

	c.rateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "rate_limit_hits_total",
		Help:      "Rate-limit responses observed, by source (upstream or local concurrency cap).",
	}, []string{"source"})

	c.retryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "retry_attempts_total",
		Help:      "Business retry attempts made by the orchestrator, by outcome.",
	}, []string{"outcome"})

	c.accountSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "account_switches_total",
		Help:      "Session account reassignments, by the error kind that triggered the switch.",
	}, []string{"reason"})

	c.waitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "relay",
		Name:      "concurrency_wait_seconds",
		Help:      "Time spent waiting for a concurrency slot, by slot type.",
		Buckets:   waitBuckets,
	}, []string{"slot_type"})

	c.poolClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "proxy_pool_size",
		Help:      "Number of proxies currently loaded in the pool.",
	})

	registry.MustRegister(
		c.requestsTotal, c.requestDuration, c.requestsInFlight, c.ttft,
		c.accountRequests, c.accountErrors, c.accountHealth, c.accountBreaker,
		c.rateLimitHits, c.retryAttempts, c.accountSwitches,
		c.waitDuration, c.poolClients,
	)

	return c
}

// Handler returns a gin handler serving the registry in Prometheus
// exposition format. It registers no route itself; the server mounts it
// at /metrics, and Config.Path does not change that route.
func (c *Collector) Handler() gin.HandlerFunc {
	if c == nil {
		return func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"error": "metrics disabled"})
		}
	}
	h := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
	return gin.WrapH(h)
}

// RecordRequest records a completed request's outcome and duration.
func (c *Collector) RecordRequest(driver, model, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(driver, model, status).Inc()
	c.requestDuration.WithLabelValues(driver, model).Observe(duration.Seconds())
}

// RecordTTFT records the time to the first streamed content delta.
func (c *Collector) RecordTTFT(driver, model string, d time.Duration) {
	if c == nil {
		return
	}
	c.ttft.WithLabelValues(driver, model).Observe(d.Seconds())
}

// SetInFlight sets the current in-flight request gauge for a driver path.
func (c *Collector) SetInFlight(driver string, n int) {
	if c == nil {
		return
	}
	c.requestsInFlight.WithLabelValues(driver).Set(float64(n))
}

// RecordAccountRequest increments the per-account request counter.
func (c *Collector) RecordAccountRequest(accountID string) {
	if c == nil {
		return
	}
	c.accountRequests.WithLabelValues(accountID).Inc()
}

// RecordAccountError increments the per-account, per-kind error counter.
func (c *Collector) RecordAccountError(accountID, kind string) {
	if c == nil {
		return
	}
	c.accountErrors.WithLabelValues(accountID, kind).Inc()
}

// SetAccountHealth sets whether the account's last health probe
// succeeded.
func (c *Collector) SetAccountHealth(accountID string, healthy bool) {
	if c == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.accountHealth.WithLabelValues(accountID).Set(v)
}

// SetAccountBreakerState sets the account's circuit breaker state
// gauge: 0=closed, 1=half-open, 2=open.
func (c *Collector) SetAccountBreakerState(accountID string, state int) {
	if c == nil {
		return
	}
	c.accountBreaker.WithLabelValues(accountID).Set(float64(state))
}

// RecordRateLimitHit increments the rate-limit counter for the given
// source ("upstream" or "concurrency").
func (c *Collector) RecordRateLimitHit(source string) {
	if c == nil {
		return
	}
	c.rateLimitHits.WithLabelValues(source).Inc()
}

// RecordRetry increments the retry counter for an outcome ("success" or
// "exhausted").
func (c *Collector) RecordRetry(outcome string) {
	if c == nil {
		return
	}
	c.retryAttempts.WithLabelValues(outcome).Inc()
}

// RecordAccountSwitch increments the account-switch counter for the
// relayerr.Kind that triggered it.
func (c *Collector) RecordAccountSwitch(reason string) {
	if c == nil {
		return
	}
	c.accountSwitches.WithLabelValues(reason).Inc()
}

// RecordWait records time spent waiting for a concurrency slot.
func (c *Collector) RecordWait(slotType string, d time.Duration) {
	if c == nil {
		return
	}
	c.waitDuration.WithLabelValues(slotType).Observe(d.Seconds())
}

// SetPoolSize sets the current proxy pool size gauge.
func (c *Collector) SetPoolSize(n int) {
	if c == nil {
		return
	}
	c.poolClients.Set(float64(n))
}

// RequestTracker accumulates the timing for one request so callers don't
// have to thread start times and TTFT-seen flags through call sites by
// hand.
type RequestTracker struct {
	collector *Collector
	driver    string
	model     string
	start     time.Time
	ttftSeen  bool
}

// NewRequestTracker starts tracking one request.
func (c *Collector) NewRequestTracker(driver, model string) *RequestTracker {
	return &RequestTracker{collector: c, driver: driver, model: model, start: time.Now()}
}

// MarkFirstToken records TTFT the first time it's called for this
// tracker; subsequent calls are no-ops.
func (t *RequestTracker) MarkFirstToken() {
	if t == nil || t.ttftSeen {
		return
	}
	t.ttftSeen = true
	t.collector.RecordTTFT(t.driver, t.model, time.Since(t.start))
}

// Finish records the request's total duration and outcome status.
func (t *RequestTracker) Finish(status string) {
	if t == nil {
		return
	}
	t.collector.RecordRequest(t.driver, t.model, status, time.Since(t.start))
}
