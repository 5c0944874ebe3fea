package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the statistics table into Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	AttacksDetected *prometheus.CounterVec
	AttacksBlocked  *prometheus.CounterVec
	HandlerErrors   *prometheus.CounterVec
	WithoutContext  *prometheus.CounterVec
	SinkDuration    *prometheus.HistogramVec
	Flushes         prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg gets a private
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	labels := []string{"sink", "kind"}
	return &Metrics{
		AttacksDetected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sinkguard_attacks_detected_total",
			Help: "Engine replies that reported an attack, by sink.",
		}, labels),
		AttacksBlocked: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sinkguard_attacks_blocked_total",
			Help: "Blocking verdicts, by sink.",
		}, labels),
		HandlerErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sinkguard_interceptor_errors_total",
			Help: "Interception handlers that failed and were bypassed.",
		}, labels),
		WithoutContext: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sinkguard_without_context_total",
			Help: "Intercepted calls outside an initialized request.",
		}, labels),
		SinkDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sinkguard_sink_duration_seconds",
			Help:    "Time spent in interception per sink.",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		}, labels),
		Flushes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "sinkguard_stats_flushes_total",
			Help: "Statistics flushes to the decision engine.",
		}),
	}
}

func (m *Metrics) detected(sink, kind string) {
	if m != nil {
		m.AttacksDetected.WithLabelValues(sink, kind).Inc()
	}
}

func (m *Metrics) blocked(sink, kind string) {
	if m != nil {
		m.AttacksBlocked.WithLabelValues(sink, kind).Inc()
	}
}

func (m *Metrics) errored(sink, kind string) {
	if m != nil {
		m.HandlerErrors.WithLabelValues(sink, kind).Inc()
	}
}

func (m *Metrics) withoutContext(sink, kind string) {
	if m != nil {
		m.WithoutContext.WithLabelValues(sink, kind).Inc()
	}
}

func (m *Metrics) observe(sink, kind string, d time.Duration) {
	if m != nil {
		m.SinkDuration.WithLabelValues(sink, kind).Observe(d.Seconds())
	}
}

func (m *Metrics) flushed() {
	if m != nil {
		m.Flushes.Inc()
	}
}
