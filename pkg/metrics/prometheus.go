package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	decisions *prometheus.CounterVec
	exits     *prometheus.CounterVec
	ratchets  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	lastPrice *prometheus.GaugeVec
	equity    prometheus.Gauge
	latency   *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder on the given registerer. Tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genesis_signal_decisions_total",
				Help: "Signal scoring decisions by outcome reason",
			},
			[]string{"symbol", "reason"},
		),
		exits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genesis_position_exits_total",
				Help: "Position exits by reason",
			},
			[]string{"symbol", "reason"},
		),
		ratchets: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genesis_breakeven_moves_total",
				Help: "Stop losses moved to breakeven",
			},
			[]string{"symbol"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genesis_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "genesis_last_price",
				Help: "Last price seen by the exit monitor for a symbol",
			},
			[]string{"symbol"},
		),
		equity: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "genesis_realised_equity",
				Help: "Cumulative realised PnL of the position manager",
			},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genesis_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordDecision counts a scoring decision.
func (r *Recorder) RecordDecision(symbol, reason string) {
	r.decisions.WithLabelValues(symbol, reason).Inc()
}

// RecordExit counts a closed position.
func (r *Recorder) RecordExit(symbol, reason string) {
	r.exits.WithLabelValues(symbol, reason).Inc()
}

// RecordRatchet counts a breakeven stop move.
func (r *Recorder) RecordRatchet(symbol string) {
	r.ratchets.WithLabelValues(symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errors.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordEquity sets the realised equity gauge.
func (r *Recorder) RecordEquity(value float64) {
	r.equity.Set(value)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordDecision(string, string)   {}
func (Nop) RecordExit(string, string)       {}
func (Nop) RecordRatchet(string)            {}
func (Nop) RecordError(string)              {}
func (Nop) RecordLastPrice(string, float64) {}
func (Nop) RecordEquity(float64)            {}
func (Nop) RecordLatency(string, float64)   {}
