// Package observability exposes Prometheus metrics for backtests, the
// optimizer and the REST API.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjannette/trahn-gridsim/internal/backtest"
	"github.com/kjannette/trahn-gridsim/internal/ledger"
	"github.com/kjannette/trahn-gridsim/internal/optimizer"
	"github.com/kjannette/trahn-gridsim/internal/performance"
)

// Metrics holds every collector on its own registry, so tests and multiple
// instances never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	// Backtest metrics
	RunsTotal       *prometheus.CounterVec
	TradesTotal     *prometheus.CounterVec
	Liquidations    prometheus.Counter
	Snapshots       prometheus.Counter
	LastTotalReturn prometheus.Gauge
	LastMaxDrawdown prometheus.Gauge

	// Optimizer metrics
	OptimizerRuns     *prometheus.CounterVec
	OptimizerDuration prometheus.Histogram
	OptimizerScore    prometheus.Histogram

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gridsim"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Finished backtests by outcome",
		}, []string{"outcome"}),
		TradesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "trades_total",
			Help:      "Simulated fills by reason (open for entries)",
		}, []string{"reason"}),
		Liquidations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "liquidations_total",
			Help:      "Positions closed by liquidation",
		}),
		Snapshots: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "equity_snapshots_total",
			Help:      "Equity snapshots recorded",
		}),
		LastTotalReturn: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "last_total_return",
			Help:      "Total return of the most recently finished backtest, as a fraction",
		}),
		LastMaxDrawdown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "last_max_drawdown",
			Help:      "Max drawdown of the most recently finished backtest, as a fraction",
		}),

		OptimizerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "runs_total",
			Help:      "Optimizer combinations by status",
		}, []string{"status"}),
		OptimizerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "run_duration_seconds",
			Help:      "Wall time of one optimizer combination",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		OptimizerScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "score",
			Help:      "Scores of successful optimizer combinations",
			Buckets:   []float64{-1, -0.5, -0.2, -0.1, -0.05, 0, 0.05, 0.1, 0.2, 0.5, 1},
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler serves this instance's registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile dumps the registry in the node_exporter textfile format so a
// one-shot CLI run can hand its counters to a collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// OnTrade, OnSnapshot and OnComplete make Metrics a backtest subscriber.
// Collectors are safe for concurrent use, so one instance can be shared by
// every optimizer run.
func (m *Metrics) OnTrade(t ledger.Trade) {
	reason := string(t.Reason)
	if reason == "" {
		reason = "open"
	}
	m.TradesTotal.WithLabelValues(reason).Inc()
	if t.Reason == ledger.ReasonLiquidation {
		m.Liquidations.Inc()
	}
}

func (m *Metrics) OnSnapshot(performance.EquitySnapshot) {
	m.Snapshots.Inc()
}

func (m *Metrics) OnComplete(r backtest.Report) {
	outcome := "done"
	if r.Interrupted {
		outcome = "interrupted"
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.LastTotalReturn.Set(r.TotalReturn)
	m.LastMaxDrawdown.Set(r.MaxDrawdown)
}

// ObserveRun makes Metrics an optimizer observer.
func (m *Metrics) ObserveRun(r optimizer.Run) {
	m.OptimizerRuns.WithLabelValues(string(r.Status)).Inc()
	m.OptimizerDuration.Observe(r.Duration.Seconds())
	if r.Status == optimizer.StatusOK {
		m.OptimizerScore.Observe(r.Score)
	}
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(route string, code int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
