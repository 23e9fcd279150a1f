package filter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision sources reported in the packets counter.
const (
	sourceRule         = "rule"
	sourceDefault      = "default"
	sourceInactive     = "inactive"
	sourceUnclassified = "unclassified"
)

// Metrics holds the filter's Prometheus collectors.
type Metrics struct {
	Packets     *prometheus.CounterVec
	Rules       prometheus.Gauge
	ParseErrors prometheus.Counter
	Active      prometheus.Gauge
}

// newMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "myfw",
			Name:      "packets_total",
			Help:      "Packets decided by the filter, by verdict and decision source.",
		}, []string{"verdict", "source"}),
		Rules: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "myfw",
			Name:      "rules",
			Help:      "Number of rules in the rule list.",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "myfw",
			Name:      "rule_parse_errors_total",
			Help:      "Rule lines rejected by the parser.",
		}),
		Active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "myfw",
			Name:      "filter_active",
			Help:      "1 while packets are evaluated, 0 while they bypass the filter.",
		}),
	}
}
