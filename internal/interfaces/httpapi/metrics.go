package httpapi

import (
	"net/http"
	"time"

	"txcanceller/internal/application"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "txcanceller"

// Metrics records canceller activity on a private prometheus registry.
type Metrics struct {
	registry      *prometheus.Registry
	sweeps        prometheus.Counter
	candidates    prometheus.Counter
	lastSweepSize prometheus.Gauge
	lastSweepTime prometheus.Gauge
	outcomes      *prometheus.CounterVec
	oracleErrors  prometheus.Counter
	now           func() time.Time
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sweeps_total",
			Help:      "Number of stuck-transaction sweeps started.",
		}),
		candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "candidates_total",
			Help:      "Number of pending transactions selected for replacement.",
		}),
		lastSweepSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_sweep_candidates",
			Help:      "Candidates selected by the most recent sweep.",
		}),
		lastSweepTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time of the most recent sweep.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "replacements_total",
			Help:      "Settled replacement attempts by status.",
		}, []string{"status"}),
		oracleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fee_oracle_errors_total",
			Help:      "Sweeps aborted because the fee oracle was unavailable.",
		}),
		now: time.Now,
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sweeps,
		m.candidates,
		m.lastSweepSize,
		m.lastSweepTime,
		m.outcomes,
		m.oracleErrors,
	)
	return m
}

func (m *Metrics) OnSweep(candidates int) {
	m.sweeps.Inc()
	m.candidates.Add(float64(candidates))
	m.lastSweepSize.Set(float64(candidates))
	m.lastSweepTime.Set(float64(m.now().Unix()))
}

func (m *Metrics) OnOutcome(outcome application.Outcome) {
	m.outcomes.WithLabelValues(string(outcome.Status())).Inc()
}

func (m *Metrics) OnOracleError(error) {
	m.oracleErrors.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
