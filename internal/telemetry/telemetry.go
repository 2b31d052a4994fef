package telemetry

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deepresearch/config"
)

// Telemetry collects crawl metrics and LLM cost accounting. All record
// methods are safe on a nil receiver so callers need no enabled checks.
type Telemetry struct {
	logger   *log.Logger
	registry *prometheus.Registry

	pagesFetched    *prometheus.CounterVec
	oracleCalls     *prometheus.CounterVec
	oracleFailures  *prometheus.CounterVec
	sessionsTotal   *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	tokensUsed      prometheus.Counter

	costTracking bool
	costMu       sync.Mutex
	costByModel  map[string]float64
	totalCost    float64
	totalTokens  int64
}

// NewTelemetry builds the metric set on a private registry. Returns nil
// when telemetry is disabled, which every method tolerates.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	if !cfg.Enabled {
		return nil
	}
	reg := prometheus.NewRegistry()
	t := &Telemetry{
		logger:       log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		registry:     reg,
		costTracking: cfg.CostTracking,
		costByModel:  make(map[string]float64),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchd_pages_fetched_total",
			Help: "Pages fetched, by outcome.",
		}, []string{"outcome"}),
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchd_oracle_calls_total",
			Help: "Oracle operations attempted, by operation.",
		}, []string{"op"}),
		oracleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchd_oracle_failures_total",
			Help: "Oracle operations that fell back to defaults, by operation.",
		}, []string{"op"}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchd_sessions_total",
			Help: "Finished research sessions, by terminal status.",
		}, []string{"status"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "researchd_session_duration_seconds",
			Help:    "Wall-clock duration of finished sessions.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
		tokensUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "researchd_llm_tokens_total",
			Help: "LLM tokens consumed across all sessions.",
		}),
	}
	reg.MustRegister(t.pagesFetched, t.oracleCalls, t.oracleFailures, t.sessionsTotal, t.sessionDuration, t.tokensUsed)
	return t
}

// Handler serves the metrics registry for /metrics.
func (t *Telemetry) Handler() http.Handler {
	if t == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

func (t *Telemetry) RecordPageFetch(failed bool) {
	if t == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	t.pagesFetched.WithLabelValues(outcome).Inc()
}

func (t *Telemetry) RecordOracleCall(op string) {
	if t == nil {
		return
	}
	t.oracleCalls.WithLabelValues(op).Inc()
}

func (t *Telemetry) RecordOracleFailure(op string) {
	if t == nil {
		return
	}
	t.oracleFailures.WithLabelValues(op).Inc()
}

func (t *Telemetry) RecordSession(status string, duration time.Duration) {
	if t == nil {
		return
	}
	t.sessionsTotal.WithLabelValues(status).Inc()
	t.sessionDuration.Observe(duration.Seconds())
}

// RecordTokens accounts token usage and cost for one LLM call.
func (t *Telemetry) RecordTokens(model string, input, output int64, cost float64) {
	if t == nil {
		return
	}
	t.tokensUsed.Add(float64(input + output))
	if !t.costTracking {
		return
	}
	t.costMu.Lock()
	t.costByModel[model] += cost
	t.totalCost += cost
	t.totalTokens += input + output
	t.costMu.Unlock()
}

// CostSummary returns accumulated cost per model plus totals.
func (t *Telemetry) CostSummary() (perModel map[string]float64, totalCost float64, totalTokens int64) {
	if t == nil {
		return map[string]float64{}, 0, 0
	}
	t.costMu.Lock()
	defer t.costMu.Unlock()
	perModel = make(map[string]float64, len(t.costByModel))
	for m, c := range t.costByModel {
		perModel[m] = c
	}
	return perModel, t.totalCost, t.totalTokens
}

// LogSummary prints a one-line cost summary, typically at session end.
func (t *Telemetry) LogSummary() {
	if t == nil || !t.costTracking {
		return
	}
	_, cost, tokens := t.CostSummary()
	t.logger.Printf("llm usage: %d tokens, estimated $%.4f", tokens, cost)
}
