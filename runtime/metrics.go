package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the lifecycle collectors of one Context.
type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	active      prometheus.Gauge
	loaded      prometheus.Counter
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gimo",
			Name:      "plugin_state_transitions_total",
			Help:      "Plugin state transitions by plugin and target state.",
		}, []string{"plugin", "from", "to"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gimo",
			Name:      "plugins_active",
			Help:      "Number of plugins in the ACTIVE state.",
		}),
		loaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gimo",
			Name:      "plugins_installed_total",
			Help:      "Plugins installed from archives or code.",
		}),
	}
	m.registry.MustRegister(m.transitions, m.active, m.loaded)
	return m
}

// Registry exposes the collectors, e.g. for promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeTransition(plugin string, from, to State) {
	m.transitions.WithLabelValues(plugin, from.String(), to.String()).Inc()
	if to == StateActive {
		m.active.Inc()
	}
	if from == StateActive {
		m.active.Dec()
	}
}
