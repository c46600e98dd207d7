// Package metrics exposes run progress as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is safe for concurrent use. A nil *Recorder records nothing.
type Recorder struct {
	scenarios    *prometheus.CounterVec
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	gasUsed      prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		scenarios: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgen_e2e_scenarios_total",
				Help: "Finished scenarios by suite and final state",
			},
			[]string{"suite", "state"},
		),
		steps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgen_e2e_steps_total",
				Help: "Executed steps by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		stepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tgen_e2e_step_duration_seconds",
				Help:    "Step latency in seconds, including receipt waits",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),
		gasUsed: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tgen_e2e_tx_gas_used",
				Help:    "Gas used by mined transactions",
				Buckets: prometheus.ExponentialBuckets(21_000, 2, 10),
			},
		),
	}
}

func (r *Recorder) Scenario(suite, state string) {
	if r == nil {
		return
	}
	r.scenarios.WithLabelValues(suite, state).Inc()
}

func (r *Recorder) Step(kind, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.steps.WithLabelValues(kind, outcome).Inc()
	r.stepDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (r *Recorder) GasUsed(gas uint64) {
	if r == nil {
		return
	}
	r.gasUsed.Observe(float64(gas))
}

// Handler serves the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
