package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cycles       *prometheus.HistogramVec
	signals      *prometheus.CounterVec
	retrains     prometheus.Counter
	retrainSize  prometheus.Gauge
	failedFits   prometheus.Counter
	memberWeight *prometheus.GaugeVec
	threshold    prometheus.Gauge
	outcomes     *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
	inboxDepth   prometheus.Gauge
}

// New creates a recorder on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder on reg, e.g. a fresh registry in tests.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "levpair_cycle_duration_seconds",
				Help:    "Duration of engine poll cycles by resulting state",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"state"},
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "levpair_signal_transitions_total",
				Help: "Arbiter state transitions",
			},
			[]string{"from", "to"},
		),
		retrains: f.NewCounter(prometheus.CounterOpts{
			Name: "levpair_retrains_total",
			Help: "Completed ensemble retrains",
		}),
		retrainSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "levpair_retrain_samples",
			Help: "Training samples used by the last retrain",
		}),
		failedFits: f.NewCounter(prometheus.CounterOpts{
			Name: "levpair_member_fit_failures_total",
			Help: "Ensemble members that failed to fit",
		}),
		memberWeight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "levpair_member_weight",
				Help: "Blend weight per ensemble member",
			},
			[]string{"member"},
		),
		threshold: f.NewGauge(prometheus.GaugeOpts{
			Name: "levpair_confidence_threshold",
			Help: "Current entry confidence threshold",
		}),
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "levpair_trade_outcomes_total",
				Help: "Applied trade outcomes",
			},
			[]string{"instrument", "win"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "levpair_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "levpair_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "levpair_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		inboxDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "levpair_inbox_depth",
			Help: "Outcomes and commands waiting for the engine loop",
		}),
	}
}

// RecordCycle records one poll cycle.
func (r *Recorder) RecordCycle(state string, seconds float64) {
	r.cycles.WithLabelValues(state).Observe(seconds)
}

// RecordSignal records an Arbiter transition.
func (r *Recorder) RecordSignal(from, to string) {
	r.signals.WithLabelValues(from, to).Inc()
}

// RecordRetrain records a retrain and how many members failed.
func (r *Recorder) RecordRetrain(samples int, failed int) {
	r.retrains.Inc()
	r.retrainSize.Set(float64(samples))
	r.failedFits.Add(float64(failed))
}

func (r *Recorder) RecordMemberWeight(member string, weight float64) {
	r.memberWeight.WithLabelValues(member).Set(weight)
}

func (r *Recorder) RecordThreshold(v float64) {
	r.threshold.Set(v)
}

func (r *Recorder) RecordOutcome(instrument string, win bool) {
	r.outcomes.WithLabelValues(instrument, strconv.FormatBool(win)).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordInboxDepth records how many items wait in the outcome inbox.
func (r *Recorder) RecordInboxDepth(depth int) {
	r.inboxDepth.Set(float64(depth))
}
