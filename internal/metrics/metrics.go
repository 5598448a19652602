// Package metrics provides Prometheus metrics for the settlement engine.
// All Record methods are safe on a nil receiver so components can run
// without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SettlerMetrics collects and exposes engine metrics on a private registry.
type SettlerMetrics struct {
	registry *prometheus.Registry

	// Sweep metrics
	SweepsTotal      *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
	MarketsProcessed *prometheus.CounterVec

	// Pipeline stage metrics
	FetchesTotal       *prometheus.CounterVec
	FetchDuration      prometheus.Histogram
	DecisionsTotal     *prometheus.CounterVec
	DecisionConfidence prometheus.Histogram
	OracleDuration     prometheus.Histogram
	LedgerOpsTotal     *prometheus.CounterVec
	LedgerOpDuration   *prometheus.HistogramVec
	BreakerState       *prometheus.GaugeVec

	// Mirror metrics
	SyncsTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates the metric set and registers it together with the Go and
// process collectors.
func New() *SettlerMetrics {
	m := &SettlerMetrics{
		registry: prometheus.NewRegistry(),

		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settler_sweeps_total",
				Help: "Resolution sweeps run, by trigger",
			},
			[]string{"trigger"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "settler_sweep_duration_seconds",
				Help:    "Wall time of one resolution sweep",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
			},
		),
		MarketsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settler_markets_processed_total",
				Help: "Markets handled by the sweeper, by result",
			},
			[]string{"result"},
		),

		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settler_source_fetches_total",
				Help: "Resolution source fetches, by result",
			},
			[]string{"result"},
		),
		FetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "settler_source_fetch_duration_seconds",
				Help:    "Resolution source fetch latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settler_oracle_decisions_total",
				Help: "Oracle decisions, by kind",
			},
			[]string{"decision"},
		),
		DecisionConfidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "settler_oracle_confidence",
				Help:    "Confidence reported with settling decisions",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
		OracleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "settler_oracle_duration_seconds",
				Help:    "Oracle call latency",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
			},
		),
		LedgerOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settler_ledger_ops_total",
				Help: "Ledger operations, by op and status",
			},
			[]string{"op", "status"},
		),
		LedgerOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "settler_ledger_op_duration_seconds",
				Help:    "Ledger operation latency including confirmation",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"op"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "settler_circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"breaker"},
		),

		SyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settler_mirror_syncs_total",
				Help: "Ledger mirror syncs, by status",
			},
			[]string{"status"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settler_http_requests_total",
				Help: "HTTP requests, by route and status code",
			},
			[]string{"method", "route", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "settler_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SweepsTotal,
		m.SweepDuration,
		m.MarketsProcessed,
		m.FetchesTotal,
		m.FetchDuration,
		m.DecisionsTotal,
		m.DecisionConfidence,
		m.OracleDuration,
		m.LedgerOpsTotal,
		m.LedgerOpDuration,
		m.BreakerState,
		m.SyncsTotal,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Registry returns the prometheus registry.
func (m *SettlerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *SettlerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordSweep records one completed sweep.
func (m *SettlerMetrics) RecordSweep(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues(trigger).Inc()
	m.SweepDuration.Observe(d.Seconds())
}

// RecordMarket records the result of processing one market: resolved,
// voided, error or skipped.
func (m *SettlerMetrics) RecordMarket(result string) {
	if m == nil {
		return
	}
	m.MarketsProcessed.WithLabelValues(result).Inc()
}

// RecordFetch records a source fetch; result is "ok" or the failure kind.
func (m *SettlerMetrics) RecordFetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(result).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

// RecordDecision records an oracle decision and its latency.
func (m *SettlerMetrics) RecordDecision(kind string, confidence float64, d time.Duration) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(kind).Inc()
	m.OracleDuration.Observe(d.Seconds())
	if kind != "error" {
		m.DecisionConfidence.Observe(confidence)
	}
}

// RecordLedgerOp records a ledger read or submission.
func (m *SettlerMetrics) RecordLedgerOp(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.LedgerOpsTotal.WithLabelValues(op, status).Inc()
	m.LedgerOpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetBreakerState publishes a circuit breaker state by name: "closed",
// "half-open" or "open".
func (m *SettlerMetrics) SetBreakerState(name, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	m.BreakerState.WithLabelValues(name).Set(v)
}

// RecordSync records a mirror sync.
func (m *SettlerMetrics) RecordSync(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SyncsTotal.WithLabelValues(status).Inc()
}

// RecordHTTP records one served request.
func (m *SettlerMetrics) RecordHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
