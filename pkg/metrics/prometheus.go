package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	underlying   *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
	cycles       *prometheus.CounterVec
	skipped      *prometheus.CounterVec
}

// New creates a recorder registered on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Recorder{
		messagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionpull_observations_written_total",
				Help: "Observations written, by backend (store, stream, mirror)",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionpull_errors_total",
				Help: "Errors by kind",
			},
			[]string{"type"},
		),
		underlying: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "optionpull_underlying_value",
				Help: "Last underlying value seen for a symbol",
			},
			[]string{"symbol"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optionpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionpull_cycles_total",
				Help: "Ingestion cycles by result",
			},
			[]string{"result"},
		),
		skipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optionpull_contracts_unpriced_total",
				Help: "Contracts left without analytics, by reason",
			},
			[]string{"reason"},
		),
	}
}

// RecordMessageSent adds n written observations for a backend.
func (r *Recorder) RecordMessageSent(backend, symbol string, n int) {
	if n <= 0 {
		return
	}
	r.messagesSent.WithLabelValues(backend, symbol).Add(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordUnderlying(symbol string, price float64) {
	r.underlying.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordCycle(result string) {
	r.cycles.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordSkipped(reason string, n int) {
	if n <= 0 {
		return
	}
	r.skipped.WithLabelValues(reason).Add(float64(n))
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordMessageSent(string, string, int) {}
func (Nop) RecordError(string)                    {}
func (Nop) RecordUnderlying(string, float64)      {}
func (Nop) RecordLatency(string, float64)         {}
func (Nop) RecordCycle(string)                    {}
func (Nop) RecordSkipped(string, int)             {}
