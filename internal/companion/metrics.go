package companion

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts what the companion receives.
type Metrics struct {
	registry       *prometheus.Registry
	RPCs           *prometheus.CounterVec
	Detected       *prometheus.CounterVec
	Blocked        *prometheus.CounterVec
	ConfigUpdates  *prometheus.CounterVec
	PackagesKnown  prometheus.Gauge
	JournalEntries prometheus.Gauge
}

// NewMetrics builds the collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		registry: reg,
		RPCs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sinkguard_agent_rpcs_total",
			Help: "RPCs served by the companion, by method and result.",
		}, []string{"method", "result"}),
		Detected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sinkguard_agent_attacks_detected_total",
			Help: "Attacks detected as reported by request processors, by sink.",
		}, []string{"sink"}),
		Blocked: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sinkguard_agent_attacks_blocked_total",
			Help: "Attacks blocked as reported by request processors, by sink.",
		}, []string{"sink"}),
		ConfigUpdates: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sinkguard_agent_config_updates_total",
			Help: "Configuration pushes, by outcome.",
		}, []string{"result"}),
		PackagesKnown: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sinkguard_agent_packages",
			Help: "Distinct packages reported by hosts.",
		}),
		JournalEntries: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sinkguard_agent_journal_entries",
			Help: "Entries in the companion journal.",
		}),
	}
}

// Registry exposes the underlying registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
