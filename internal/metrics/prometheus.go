// Package metrics exposes poll cycle and HTTP metrics through Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

const namespace = "polygraph"

// Recorder owns a private registry so several instances (tests, modes) never
// collide on metric names.
type Recorder struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	marketsUpdated prometheus.Gauge
	lastCycle      prometheus.Gauge
	marketErrors   *prometheus.CounterVec
	signals        *prometheus.CounterVec
	signalScore    *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a Recorder with Go runtime and process collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by outcome (ok, or the stage that failed).",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of completed poll cycles.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		marketsUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_markets_updated",
			Help:      "Markets snapshotted by the last completed cycle.",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_last_cycle_timestamp_seconds",
			Help:      "Unix time the last poll cycle completed.",
		}),
		marketErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_errors_total",
			Help:      "Per-market failures by cycle stage.",
		}, []string{"stage"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals persisted, by kind.",
		}, []string{"kind"}),
		signalScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signal_score",
			Help:      "Scores of persisted signals.",
			Buckets:   prometheus.LinearBuckets(30, 10, 7),
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route pattern.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "method"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.cycles, r.cycleDuration, r.marketsUpdated, r.lastCycle,
		r.marketErrors, r.signals, r.signalScore,
		r.httpRequests, r.httpDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// CycleCompleted records a successful poll cycle.
func (r *Recorder) CycleCompleted(elapsed time.Duration, marketsUpdated int) {
	r.cycles.WithLabelValues("ok").Inc()
	r.cycleDuration.Observe(elapsed.Seconds())
	r.marketsUpdated.Set(float64(marketsUpdated))
	r.lastCycle.SetToCurrentTime()
}

// CycleFailed records a cycle that stopped at stage.
func (r *Recorder) CycleFailed(stage string) {
	r.cycles.WithLabelValues(stage).Inc()
}

// MarketFailed records one market failing at stage.
func (r *Recorder) MarketFailed(stage string) {
	r.marketErrors.WithLabelValues(stage).Inc()
}

// SignalRecorded records a persisted signal.
func (r *Recorder) SignalRecorded(kind domain.SignalKind, score float64) {
	r.signals.WithLabelValues(string(kind)).Inc()
	r.signalScore.WithLabelValues(string(kind)).Observe(score)
}

// ObserveRequest records one API request. route is the matched ServeMux
// pattern, which keeps label cardinality bounded.
func (r *Recorder) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
